// Package espflash is the public core: a Session that discovers a target
// over a serial ROM bootloader, uploads a RAM stub, and drives flash
// read/write/verify and register/SPI-flash inspection through it.
package espflash

import (
	"fmt"
	"sync"
	"time"

	"github.com/romflash/espflash/flash"
	"github.com/romflash/espflash/protoutil"
	"github.com/romflash/espflash/reset"
	"github.com/romflash/espflash/serialport"
	"github.com/romflash/espflash/slip"
	"github.com/romflash/espflash/target"
)

const probeBaud = 115200

// Options configures a Session's timing knobs. NewOptions fills in the
// defaults the connect algorithm uses, and New starts from those; a zero
// Options (SyncAttempts 0, no timeouts) never completes a connect.
type Options struct {
	SyncTimeout    time.Duration
	SyncAttempts   int
	DrainWindow    time.Duration
	ControlTimeout time.Duration
	RebaudTarget   uint32
}

func NewOptions() *Options {
	return &Options{
		SyncTimeout:    50 * time.Millisecond,
		SyncAttempts:   4,
		DrainWindow:    200 * time.Millisecond,
		ControlTimeout: time.Second,
		RebaudTarget:   460800,
	}
}

// SessionOption mutates an Options during construction, in the style of
// the teacher's functional-option pair over its own Options type.
type SessionOption func(*Options)

func WithSyncAttempts(n int) SessionOption { return func(o *Options) { o.SyncAttempts = n } }
func WithControlTimeout(d time.Duration) SessionOption {
	return func(o *Options) { o.ControlTimeout = d }
}

// WithRebaudTarget picks the baud rate the rebaud handshake moves the link
// to after stub upload. The original hard-codes 460800 regardless of what
// a caller asks for; this honors the caller's request instead.
func WithRebaudTarget(baud uint32) SessionOption {
	return func(o *Options) { o.RebaudTarget = baud }
}

// EspTargetInfo is the read-only identity snapshot populated once connect
// completes and cleared on disconnect.
type EspTargetInfo struct {
	Connected       bool
	ComPort         string
	ChipFamily      string
	ChipDescription string
	ChipFeatures    string
	FlashSize       uint32
}

// Session owns exactly one serial port for its entire connected lifetime;
// at most one command is ever in flight on it.
type Session struct {
	mu       sync.Mutex
	opts     *Options
	port     *serialport.Adapter
	tr       transportLike
	target   *target.Descriptor
	strategy reset.Strategy
	baud     uint32
	info     EspTargetInfo
	progress func(int)
}

// transportLike is satisfied by *transport.Transport; named locally so
// session.go doesn't need to import the transport package just to spell
// its type in a field (connect.go imports it to construct one).
type transportLike = interface {
	Send(opcode byte, payload []byte, checksum uint32, timeout time.Duration) (slip.Reply, error)
	OK(opcode byte, payload []byte, checksum uint32, timeout time.Duration) (slip.Reply, bool, error)
	ReadRawFrame() ([]byte, error)
	WriteRaw(b []byte) error
}

func New(opts ...SessionOption) *Session {
	o := NewOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Session{opts: o}
}

// SetProgressListener installs the callback flash read/write report
// percent-complete through. Called from the same goroutine driving the
// protocol; a listener living on another goroutine/thread must marshal.
func (s *Session) SetProgressListener(f func(int)) { s.progress = f }

// GetPorts enumerates candidate serial device nodes.
func (s *Session) GetPorts() []string { return serialport.ListPorts() }

// Info returns the current identity snapshot.
func (s *Session) Info() EspTargetInfo { return s.info }

// ReadReg satisfies target.ReadPort so a descriptor's decoders can read
// live registers through the session that resolved them.
func (s *Session) ReadReg(addr uint32) (uint32, error) {
	payload := protoutil.LE32(nil, addr)
	reply, err := s.tr.Send(protoutil.OpReadReg, payload, 0, s.opts.ControlTimeout)
	if err != nil {
		return 0, err
	}
	if !reply.Valid {
		return 0, Fail(KindProtocolFrameInvalid, "READ_REG: invalid reply", nil)
	}
	return reply.Value, nil
}

// WriteReg satisfies spiflash.Controller.
func (s *Session) WriteReg(addr, value uint32) error {
	payload := protoutil.LE32(nil, addr)
	payload = protoutil.LE32(payload, value)
	payload = protoutil.LE32(payload, 0xFFFFFFFF)
	payload = protoutil.LE32(payload, 0)
	_, ok, err := s.tr.OK(protoutil.OpWriteReg, payload, 0, s.opts.ControlTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return Fail(KindDeviceStatusNonZero, "WRITE_REG rejected", nil)
	}
	return nil
}

// Baud satisfies target.ReadPort.
func (s *Session) Baud() uint32 { return s.baud }

// Disconnect releases the serial handle and returns the session to idle.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
	s.tr = nil
	s.target = nil
	s.info = EspTargetInfo{}
}

// ReadFlash reads size bytes starting at offset through the chunked
// flash-read protocol, verifying the device's MD5 trailer.
func (s *Session) ReadFlash(offset, size uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return nil, Fail(KindUnknownChip, "read_flash: not connected", nil)
	}
	return flash.Read(s.tr, offset, size, s.target.FlashSectorSize, s.progress)
}

// FlashUpload writes data at offset, optionally deflating it, retrying
// each macro-block up to 3 times before giving up on the whole write.
func (s *Session) FlashUpload(offset uint32, data []byte, compressed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return Fail(KindUnknownChip, "flash_upload: not connected", nil)
	}
	w := flash.NewWriter(s.tr, s.target.FlashWriteSize, target.DetectMagicRegAddr)
	if err := w.Write(offset, data, compressed, s.progress); err != nil {
		return Fail(KindFlashWriteExhausted, "flash_upload failed", err)
	}
	return nil
}

// VerifyFlash re-reads the given range and compares it byte-for-byte
// against data — a convenience wrapper over ReadFlash for callers that
// already hold the image in memory.
func (s *Session) VerifyFlash(offset uint32, data []byte) error {
	got, err := s.ReadFlash(offset, uint32(len(data)))
	if err != nil {
		return err
	}
	for i := range data {
		if got[i] != data[i] {
			return Fail(KindMd5Mismatch, fmt.Sprintf("verify_flash: mismatch at offset 0x%x", offset+uint32(i)), nil)
		}
	}
	return nil
}
