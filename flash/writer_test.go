package flash

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/romflash/espflash/protoutil"
	"github.com/romflash/espflash/slip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dataPacket struct {
	seq  uint32
	data []byte
}

type fakeWriteReader struct {
	beginTotalSize uint32
	accum          []byte
	dataPackets    []dataPacket
}

func (f *fakeWriteReader) Send(opcode byte, payload []byte, checksum uint32, timeout time.Duration) (slip.Reply, error) {
	switch opcode {
	case protoutil.OpFlashBegin, protoutil.OpFlashDeflBegin:
		f.beginTotalSize = binary.LittleEndian.Uint32(payload[0:4])
		f.accum = nil
		f.dataPackets = nil
		return slip.Reply{Valid: true, Command: opcode, Data: []byte{0}}, nil
	case protoutil.OpFlashData, protoutil.OpFlashDeflData:
		size := binary.LittleEndian.Uint32(payload[0:4])
		seq := binary.LittleEndian.Uint32(payload[4:8])
		piece := append([]byte{}, payload[16:16+size]...)
		f.dataPackets = append(f.dataPackets, dataPacket{seq: seq, data: piece})
		f.accum = append(f.accum, piece...)
		return slip.Reply{Valid: true, Command: opcode, Data: []byte{0}}, nil
	case protoutil.OpReadReg:
		return slip.Reply{Valid: true, Command: opcode, Data: []byte{0}}, nil
	case protoutil.OpSpiFlashMD5:
		content := f.accum
		if uint32(len(content)) > f.beginTotalSize {
			content = content[:f.beginTotalSize]
		}
		sum := protoutil.MD5(content)
		data := append(append([]byte{}, sum[:]...), 0, 0)
		return slip.Reply{Valid: true, Command: opcode, Data: data}, nil
	default:
		return slip.Reply{}, fmt.Errorf("unexpected opcode 0x%02x", opcode)
	}
}

func (f *fakeWriteReader) ReadRawFrame() ([]byte, error) { return nil, fmt.Errorf("not used") }
func (f *fakeWriteReader) WriteRaw(b []byte) error       { return nil }

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestWriteEightKExactlyTwoPackets(t *testing.T) {
	f := &fakeWriteReader{}
	w := NewWriter(f, 4096, 0x40001000)
	data := pattern(8192)

	err := w.Write(0, data, false, nil)
	require.NoError(t, err)

	require.Len(t, f.dataPackets, 2)
	assert.Equal(t, uint32(0), f.dataPackets[0].seq)
	assert.Equal(t, uint32(1), f.dataPackets[1].seq)
	assert.Len(t, f.dataPackets[0].data, 4096)
	assert.Len(t, f.dataPackets[1].data, 4096)
	assert.Equal(t, data[:4096], f.dataPackets[0].data)
	assert.Equal(t, data[4096:], f.dataPackets[1].data)
}

func TestWriteProgressReachesHundred(t *testing.T) {
	f := &fakeWriteReader{}
	w := NewWriter(f, 4096, 0x40001000)
	data := pattern(8192)
	last := 0
	err := w.Write(0, data, false, func(p int) { last = p })
	require.NoError(t, err)
	assert.Equal(t, 100, last)
}

func TestPadTo4(t *testing.T) {
	assert.Equal(t, []byte{1, 2, 3, 0xFF}, padTo4([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3, 4}, padTo4([]byte{1, 2, 3, 4}))
}

func TestMacroBlockSizeFloor(t *testing.T) {
	assert.Equal(t, uint32(8192), macroBlockSize(8192))
}

func TestMacroBlockSizeOnePercent(t *testing.T) {
	total := uint32(2 * 1024 * 1024)
	got := macroBlockSize(total)
	assert.Equal(t, total/100/4096*4096, got)
}
