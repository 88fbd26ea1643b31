package serialport

import (
	"fmt"
	"time"
)

// Adapter is the serial port as seen by the rest of espflash: an opened
// byte stream with DTR/RTS control and an adjustable baud rate, everything
// the reset sequencer and the rebaud handshake need and nothing else.
type Adapter struct {
	Port *Port
	baud uint32
}

// OpenAdapter opens name in raw 8N1 mode at baud and returns an Adapter
// ready for protocol use. The read deadline defaults to 100ms; callers
// needing a different per-call timeout use SetDeadline.
func OpenAdapter(name string, baud uint32) (*Adapter, error) {
	opts := NewOptions().SetReadTimeout(100 * time.Millisecond)
	p, err := Open(name, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	a := &Adapter{Port: p}
	if err := a.SetBaud(baud); err != nil {
		_ = p.Close()
		return nil, err
	}
	return a, nil
}

// WrapAdapter attaches an Adapter to an already-open Port (used by tests
// against a PTY pair, where the port is opened and raw-configured by the
// test harness rather than by name).
func WrapAdapter(p *Port, baud uint32) *Adapter {
	return &Adapter{Port: p, baud: baud}
}

func (a *Adapter) Write(b []byte) (int, error) { return a.Port.Write(b) }
func (a *Adapter) Read(b []byte) (int, error)  { return a.Port.Read(b) }
func (a *Adapter) Close() error                { return a.Port.Close() }

// SetDeadline changes the per-Read timeout.
func (a *Adapter) SetDeadline(d time.Duration) { a.Port.SetReadTimeout(d) }

// Baud reports the last baud rate applied via SetBaud.
func (a *Adapter) Baud() uint32 { return a.baud }

// SetBaud reconfigures the line to 8N1 at the given custom baud rate using
// termios2/BOTHER, the mechanism both initial Open and the rebaud handshake
// (espflash §4.6) rely on.
func (a *Adapter) SetBaud(baud uint32) error {
	attrs, err := a.Port.GetAttr2()
	if err != nil {
		return fmt.Errorf("get attrs: %w", err)
	}
	attrs.MakeRaw()
	attrs.Cflag |= CREAD | CLOCAL
	attrs.SetCustomSpeed(baud)
	if err := a.Port.SetAttr2(TCSANOW, attrs); err != nil {
		return fmt.Errorf("set attrs: %w", err)
	}
	a.baud = baud
	return nil
}

// SetDTR drives the DTR modem line high (on) or low (off).
func (a *Adapter) SetDTR(on bool) error {
	return a.setLine(TIOCM_DTR, on)
}

// SetRTS drives the RTS modem line high (on) or low (off).
func (a *Adapter) SetRTS(on bool) error {
	return a.setLine(TIOCM_RTS, on)
}

func (a *Adapter) setLine(line ModemLine, on bool) error {
	if on {
		return a.Port.EnableModemLines(line)
	}
	return a.Port.DisableModemLines(line)
}

// Drain discards whatever is currently buffered for read, used by the
// connect engine and rebaud handshake after flipping lines or baud.
func (a *Adapter) Drain(window time.Duration) {
	buf := make([]byte, 256)
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		a.SetDeadline(10 * time.Millisecond)
		n, err := a.Read(buf)
		if n == 0 && err != nil {
			continue
		}
	}
}
