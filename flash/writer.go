package flash

import (
	"bytes"
	"compress/flate"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/romflash/espflash/protoutil"
)

const maxBlockAttempts = 3

// Writer drives the macro-block write-then-verify pipeline for one flash
// write call. It holds the target-specific write parameters that stay
// fixed across all blocks of one write.
type Writer struct {
	r              Reader
	flashWriteSize uint32
	dummyRegAddr   uint32
}

func NewWriter(r Reader, flashWriteSize, dummyRegAddr uint32) *Writer {
	return &Writer{r: r, flashWriteSize: flashWriteSize, dummyRegAddr: dummyRegAddr}
}

// padTo4 right-pads data with 0xFF to a multiple of 4 bytes.
func padTo4(data []byte) []byte {
	if rem := len(data) % 4; rem != 0 {
		pad := bytes.Repeat([]byte{0xFF}, 4-rem)
		data = append(append([]byte{}, data...), pad...)
	}
	return data
}

// macroBlockSize is max(2 sectors, ~1% of total), in units of 4096.
func macroBlockSize(total uint32) uint32 {
	const sector = 4096
	pct := (total / sector / 100) * sector
	if min := uint32(2 * sector); pct < min {
		return min
	}
	return pct
}

// Write implements the full flash-write pipeline: pad, partition into
// macro-blocks, and for each block attempt flash_data+verify_block up to
// maxBlockAttempts times before aborting the whole write.
func (w *Writer) Write(offset uint32, data []byte, compressed bool, onProgress Progress) error {
	if len(data) == 0 {
		return nil
	}
	data = padTo4(data)
	blockSize := macroBlockSize(uint32(len(data)))

	committed := 0
	total := len(data)
	for start := 0; start < total; start += int(blockSize) {
		end := start + int(blockSize)
		if end > total {
			end = total
		}
		block := data[start:end]
		blockOffset := offset + uint32(start)

		ok := false
		for attempt := 0; attempt < maxBlockAttempts; attempt++ {
			if err := w.flashData(blockOffset, block, compressed); err != nil {
				glog.Warningf("flash: write attempt %d at offset 0x%x failed: %v", attempt+1, blockOffset, err)
				continue
			}
			if err := w.verifyBlock(blockOffset, block); err != nil {
				glog.Warningf("flash: verify attempt %d at offset 0x%x failed: %v", attempt+1, blockOffset, err)
				continue
			}
			ok = true
			break
		}
		if !ok {
			return fmt.Errorf("flash: write exhausted retries at offset 0x%x", blockOffset)
		}
		committed += len(block)
		if onProgress != nil {
			onProgress(committed * 100 / total)
		}
	}
	return nil
}

// flashData streams one macro-block through FLASH_(DEFL_)BEGIN/DATA.
// Compressed pieces carry their natural (deflated) size; uncompressed
// pieces are padded to flashWriteSize with 0xFF.
func (w *Writer) flashData(offset uint32, block []byte, compressed bool) error {
	upload := block
	beginOp := byte(protoutil.OpFlashBegin)
	dataOp := byte(protoutil.OpFlashData)
	if compressed {
		var buf bytes.Buffer
		zw, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return err
		}
		if _, err := zw.Write(block); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		upload = buf.Bytes()
		beginOp = protoutil.OpFlashDeflBegin
		dataOp = protoutil.OpFlashDeflData
	}

	npackets := ceilDivInt(len(upload), int(w.flashWriteSize))
	begin := protoutil.LE32(nil, uint32(len(block)))
	begin = protoutil.LE32(begin, uint32(npackets))
	begin = protoutil.LE32(begin, w.flashWriteSize)
	begin = protoutil.LE32(begin, offset)
	if err := w.sendOK(beginOp, begin); err != nil {
		return err
	}

	for seq := 0; seq*int(w.flashWriteSize) < len(upload); seq++ {
		start := seq * int(w.flashWriteSize)
		end := start + int(w.flashWriteSize)
		if end > len(upload) {
			end = len(upload)
		}
		piece := upload[start:end]
		if !compressed && len(piece) < int(w.flashWriteSize) {
			piece = append(append([]byte{}, piece...), bytes.Repeat([]byte{0xFF}, int(w.flashWriteSize)-len(piece))...)
		}
		hdr := protoutil.LE32(nil, uint32(len(piece)))
		hdr = protoutil.LE32(hdr, uint32(seq))
		hdr = protoutil.LE32(hdr, 0)
		hdr = protoutil.LE32(hdr, 0)
		body := append(hdr, piece...)
		if err := w.sendOKWithChecksum(dataOp, body, protoutil.Checksum(piece)); err != nil {
			return fmt.Errorf("flash: %w at packet %d", err, seq)
		}
	}

	// Fence: a dummy READ_REG lets the device's internal flash write for
	// the last packet complete before verify_block runs.
	dummy := protoutil.LE32(nil, w.dummyRegAddr)
	if _, err := w.r.Send(protoutil.OpReadReg, dummy, 0, controlTimeout); err != nil {
		return err
	}
	return nil
}

func (w *Writer) sendOK(opcode byte, payload []byte) error {
	return w.sendOKWithChecksum(opcode, payload, 0)
}

func (w *Writer) sendOKWithChecksum(opcode byte, payload []byte, checksum uint32) error {
	reply, err := w.r.Send(opcode, payload, checksum, dataTimeout)
	if err != nil {
		return err
	}
	if !reply.Valid || reply.Command != opcode || len(reply.Data) == 0 || reply.Data[0] != 0 {
		return fmt.Errorf("device rejected opcode 0x%02x", opcode)
	}
	return nil
}

// verifyBlock sends SPI_FLASH_MD5 (0x13) and compares the device's
// digest (the first 16 bytes of the reply, with 2 trailing status bytes
// stripped) against the locally computed one. Timeout scales at 5s/MiB.
func (w *Writer) verifyBlock(offset uint32, block []byte) error {
	payload := protoutil.LE32(nil, offset)
	payload = protoutil.LE32(payload, uint32(len(block)))
	payload = protoutil.LE32(payload, 0)
	payload = protoutil.LE32(payload, 0)
	timeout := time.Duration(len(block)) * 5 * time.Second / (1024 * 1024)
	if timeout < 5*time.Second {
		timeout = 5 * time.Second
	}
	reply, err := w.r.Send(protoutil.OpSpiFlashMD5, payload, 0, timeout)
	if err != nil {
		return err
	}
	if !reply.Valid || len(reply.Data) < 18 {
		return fmt.Errorf("flash: verify_block malformed reply")
	}
	deviceMD5 := reply.Data[:16]
	want := protoutil.MD5(block)
	if !bytes.Equal(deviceMD5, want[:]) {
		return fmt.Errorf("flash: MD5 mismatch at offset 0x%x", offset)
	}
	return nil
}

func ceilDivInt(n, d int) int {
	if n == 0 {
		return 0
	}
	return (n + d - 1) / d
}
