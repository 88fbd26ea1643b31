// Package transport composes the 8-byte bootloader command header onto a
// SLIP-framed byte stream, writes it, and waits for exactly one reply
// frame within a deadline.
package transport

import (
	"time"

	"github.com/golang/glog"
	"github.com/romflash/espflash/slip"
	"zappem.net/pub/debug/xxd"
)

// Stream is the minimal serial surface a Transport needs: writer, reader,
// and a per-call read deadline. serialport.Adapter satisfies this.
type Stream interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	SetDeadline(d time.Duration)
}

// Transport sends framed commands and parses exactly one reply frame per
// call. It never retries — a caller-visible fault on the first attempt
// propagates immediately, per the failure-semantics rule that only the
// connect loop and the flash-write macro-block loop retry.
type Transport struct {
	stream Stream
	reader *slip.FrameReader
}

func New(stream Stream) *Transport {
	return &Transport{stream: stream, reader: slip.NewFrameReader(stream)}
}

// Send transmits a framed command and returns the single parsed reply
// received within timeout.
func (t *Transport) Send(opcode byte, payload []byte, checksum uint32, timeout time.Duration) (slip.Reply, error) {
	frame := slip.EncodeCommand(opcode, payload, checksum)
	if glog.V(3) {
		glog.Infof("-> opcode=0x%02x payload=%d bytes", opcode, len(payload))
		xxd.Print(0, frame)
	}
	if _, err := t.stream.Write(frame); err != nil {
		return slip.Reply{}, err
	}
	t.stream.SetDeadline(timeout)
	raw, err := t.reader.ReadFrame()
	if err != nil {
		return slip.Reply{}, err
	}
	reply := slip.ParseReply(raw)
	if glog.V(3) {
		glog.Infof("<- valid=%v command=0x%02x value=0x%08x data=%d bytes", reply.Valid, reply.Command, reply.Value, len(reply.Data))
		xxd.Print(0, raw)
	}
	return reply, nil
}

// ReadRawFrame reads one SLIP-delimited frame without interpreting it as a
// command reply, for the rare unframed-but-still-SLIP-delimited replies
// the protocol uses outside the normal command/reply shape (the stub's
// OHAI greeting, and the flash reader's data frames and MD5 trailer).
func (t *Transport) ReadRawFrame() ([]byte, error) {
	raw, err := t.reader.ReadFrame()
	if err != nil {
		return nil, err
	}
	decoded, ok := slip.DecodeRaw(raw)
	if !ok {
		return nil, slip.ErrNoFrame
	}
	return decoded, nil
}

// WriteRaw SLIP-frames b with no command header and writes it directly —
// used for the flash reader's flow-control ACK, which is a bare 4-byte
// counter rather than a command/reply pair.
func (t *Transport) WriteRaw(b []byte) error {
	_, err := t.stream.Write(slip.EncodeRaw(b))
	return err
}

// OK sends the command and reports whether the reply is valid, addresses
// the same opcode, and carries a zero status byte as its first data byte
// (the ROM convention for every non-streaming reply).
func (t *Transport) OK(opcode byte, payload []byte, checksum uint32, timeout time.Duration) (slip.Reply, bool, error) {
	reply, err := t.Send(opcode, payload, checksum, timeout)
	if err != nil {
		return reply, false, err
	}
	if !reply.Valid || reply.Command != opcode {
		return reply, false, nil
	}
	if len(reply.Data) == 0 {
		return reply, false, nil
	}
	return reply, reply.Data[0] == 0, nil
}
