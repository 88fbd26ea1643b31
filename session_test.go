package espflash

import (
	"fmt"
	"testing"
	"time"

	"github.com/romflash/espflash/protoutil"
	"github.com/romflash/espflash/slip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	regs map[uint32]uint32
}

func newFakeTransport() *fakeTransport { return &fakeTransport{regs: map[uint32]uint32{}} }

func (f *fakeTransport) Send(opcode byte, payload []byte, checksum uint32, timeout time.Duration) (slip.Reply, error) {
	switch opcode {
	case protoutil.OpReadReg:
		addr := leU32(payload)
		return slip.Reply{Valid: true, Command: opcode, Value: f.regs[addr]}, nil
	default:
		return slip.Reply{Valid: true, Command: opcode, Data: []byte{0}}, nil
	}
}

func (f *fakeTransport) OK(opcode byte, payload []byte, checksum uint32, timeout time.Duration) (slip.Reply, bool, error) {
	if opcode == protoutil.OpWriteReg {
		addr := leU32(payload[0:4])
		value := leU32(payload[4:8])
		f.regs[addr] = value
	}
	return slip.Reply{Valid: true, Command: opcode, Data: []byte{0}}, true, nil
}

func (f *fakeTransport) ReadRawFrame() ([]byte, error) { return nil, fmt.Errorf("not used") }
func (f *fakeTransport) WriteRaw(b []byte) error       { return nil }

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestSessionReadWriteReg(t *testing.T) {
	tr := newFakeTransport()
	s := New()
	s.tr = tr

	require.NoError(t, s.WriteReg(0x3FF00050, 0x12345678))
	v, err := s.ReadReg(0x3FF00050)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), v)
}

func TestSessionReadFlashWithoutConnectFails(t *testing.T) {
	s := New()
	_, err := s.ReadFlash(0, 16)
	assert.True(t, Is(err, KindUnknownChip))
}

func TestSessionFlashUploadWithoutConnectFails(t *testing.T) {
	s := New()
	err := s.FlashUpload(0, []byte{1, 2, 3, 4}, false)
	assert.True(t, Is(err, KindUnknownChip))
}

func TestSessionInfoDefaultsDisconnected(t *testing.T) {
	s := New()
	assert.False(t, s.Info().Connected)
}

func TestSessionDisconnectIsIdempotent(t *testing.T) {
	s := New()
	s.Disconnect()
	s.Disconnect()
	assert.False(t, s.Info().Connected)
}

func TestWithRebaudTargetOption(t *testing.T) {
	s := New(WithRebaudTarget(921600))
	assert.Equal(t, uint32(921600), s.opts.RebaudTarget)
}

func TestWithSyncAttemptsOption(t *testing.T) {
	s := New(WithSyncAttempts(7))
	assert.Equal(t, 7, s.opts.SyncAttempts)
}
