// Package stub uploads a target's RAM-resident replacement command
// handler through the ROM bootloader's MEM_BEGIN/MEM_DATA/MEM_END
// commands, then confirms the handoff with the stub's out-of-band
// greeting.
package stub

import (
	"bytes"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/romflash/espflash/protoutil"
	"github.com/romflash/espflash/slip"
	"github.com/romflash/espflash/target"
)

const controlTimeout = time.Second

// ohai is the literal four-byte greeting the stub sends, unframed, once
// its entry point runs — the ROM bootloader never sends this, so its
// presence is the signal that control has actually transferred.
var ohai = []byte("OHAI")

// Reader is the narrow transport surface the loader needs: framed
// send/reply plus one raw (unframed) frame read for the OHAI greeting.
type Reader interface {
	Send(opcode byte, payload []byte, checksum uint32, timeout time.Duration) (slip.Reply, error)
	ReadRawFrame() ([]byte, error)
}

func ceilDiv(n, d uint32) uint32 {
	if n == 0 {
		return 0
	}
	return (n + d - 1) / d
}

func section(t Reader, data []byte, loadAddr uint32, ramBlock uint32) error {
	size := uint32(len(data))
	if size == 0 {
		return nil
	}
	npackets := ceilDiv(size, ramBlock)
	payload := protoutil.LE32(nil, size)
	payload = protoutil.LE32(payload, npackets)
	payload = protoutil.LE32(payload, ramBlock)
	payload = protoutil.LE32(payload, loadAddr)
	reply, err := t.Send(protoutil.OpMemBegin, payload, 0, controlTimeout)
	if err != nil {
		return err
	}
	if !reply.Valid || len(reply.Data) == 0 || reply.Data[0] != 0 {
		return fmt.Errorf("stub: MEM_BEGIN rejected")
	}
	for seq := uint32(0); seq*ramBlock < size; seq++ {
		start := seq * ramBlock
		end := start + ramBlock
		if end > size {
			end = size
		}
		piece := data[start:end]
		hdr := protoutil.LE32(nil, uint32(len(piece)))
		hdr = protoutil.LE32(hdr, seq)
		hdr = protoutil.LE32(hdr, 0)
		hdr = protoutil.LE32(hdr, 0)
		body := append(hdr, piece...)
		reply, err := t.Send(protoutil.OpMemData, body, protoutil.Checksum(piece), controlTimeout)
		if err != nil {
			return err
		}
		if !reply.Valid || len(reply.Data) == 0 || reply.Data[0] != 0 {
			return fmt.Errorf("stub: MEM_DATA rejected at packet %d", seq)
		}
	}
	return nil
}

// Upload loads d.StubBlob.Text and .Data into RAM through
// MEM_BEGIN/MEM_DATA, hands control to the stub's entry point through
// MEM_END, and waits for the OHAI greeting that confirms the stub's
// command handler is now running in place of the ROM's.
func Upload(t Reader, d *target.Descriptor, ramBlock uint32) error {
	if err := section(t, d.StubBlob.Text, d.StubBlob.TextStart, ramBlock); err != nil {
		glog.Errorf("stub: text upload failed: %v", err)
		return err
	}
	if err := section(t, d.StubBlob.Data, d.StubBlob.DataStart, ramBlock); err != nil {
		glog.Errorf("stub: data upload failed: %v", err)
		return err
	}
	endPayload := protoutil.LE32(nil, 0)
	endPayload = protoutil.LE32(endPayload, d.StubBlob.Entry)
	if _, err := t.Send(protoutil.OpMemEnd, endPayload, 0, controlTimeout); err != nil {
		glog.Errorf("stub: MEM_END failed: %v", err)
		return err
	}
	raw, err := t.ReadRawFrame()
	if err != nil {
		glog.Errorf("stub: no greeting after MEM_END: %v", err)
		return fmt.Errorf("stub: upload failed: %w", err)
	}
	if !bytes.Equal(raw, ohai) {
		glog.Errorf("stub: unexpected greeting %q", raw)
		return fmt.Errorf("stub: upload failed: bad greeting")
	}
	return nil
}
