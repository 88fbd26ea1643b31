// Package flash implements the chunked flash-read pipeline and the
// macro-block flash-write-with-verify pipeline that run once a stub is in
// control of the target.
package flash

import (
	"bytes"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/romflash/espflash/protoutil"
	"github.com/romflash/espflash/slip"
)

const (
	controlTimeout = time.Second
	dataTimeout    = 5 * time.Second
)

// Reader is the transport surface the flash reader needs: framed
// send/reply, one raw (unframed) data/trailer frame read, and a raw
// (unframed) write for the flow-control ACK.
type Reader interface {
	Send(opcode byte, payload []byte, checksum uint32, timeout time.Duration) (slip.Reply, error)
	ReadRawFrame() ([]byte, error)
	WriteRaw(b []byte) error
}

// Progress receives the percentage of the operation completed so far: Read
// calls it after each frame is appended, Writer.Write after each committed
// macro-block.
type Progress func(percent int)

// Read issues READ_FLASH for (offset, size) and pulls sector_size-bounded
// data frames until size bytes have been collected, ACKing the running
// byte count after each frame, then verifies the device's trailing MD5
// digest against the locally computed one.
func Read(r Reader, offset, size, sectorSize uint32, onProgress Progress) ([]byte, error) {
	payload := protoutil.LE32(nil, offset)
	payload = protoutil.LE32(payload, size)
	payload = protoutil.LE32(payload, sectorSize)
	payload = protoutil.LE32(payload, 1) // max_in_flight
	reply, err := r.Send(protoutil.OpReadFlash, payload, 0, controlTimeout)
	if err != nil {
		return nil, err
	}
	if !reply.Valid {
		return nil, fmt.Errorf("flash: READ_FLASH rejected")
	}

	out := make([]byte, 0, size)
	for uint32(len(out)) < size {
		frame, err := r.ReadRawFrame()
		if err != nil {
			return nil, err
		}
		out = append(out, frame...)
		ack := protoutil.LE32(nil, uint32(len(out)))
		if err := r.WriteRaw(ack); err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(int(uint64(len(out)) * 100 / uint64(size)))
		}
		if uint32(len(out)) < size && uint32(len(frame)) != sectorSize {
			return nil, fmt.Errorf("flash: short read packet (%d bytes, expected %d)", len(frame), sectorSize)
		}
	}

	trailer, err := r.ReadRawFrame()
	if err != nil {
		return nil, fmt.Errorf("flash: missing MD5 trailer: %w", err)
	}
	if len(trailer) != 16 {
		return nil, fmt.Errorf("flash: malformed MD5 trailer (%d bytes)", len(trailer))
	}
	got := protoutil.MD5(out)
	if !bytes.Equal(got[:], trailer) {
		glog.Errorf("flash: read MD5 mismatch: device=%x local=%x", trailer, got)
		return nil, fmt.Errorf("flash: MD5 mismatch on read")
	}
	return out, nil
}
