// Package reset drives DTR/RTS on a serial line through the handful of
// timed toggle sequences a ROM bootloader's strapping pins respond to.
package reset

import "time"

// Strategy names one DTR/RTS toggle sequence used to force a target into
// its ROM bootloader.
type Strategy int

const (
	Classic Strategy = iota
	UsbJtagSerial
)

func (s Strategy) String() string {
	switch s {
	case Classic:
		return "classic"
	case UsbJtagSerial:
		return "usb-jtag-serial"
	default:
		return "unknown"
	}
}

// Lines is the DTR/RTS control surface a reset sequence drives.
// serialport.Adapter satisfies this directly.
type Lines interface {
	SetDTR(on bool) error
	SetRTS(on bool) error
}

// Sleep abstracts time.Sleep so tests can run the sequences without the
// real delays.
type Sleep func(time.Duration)

// ToBoot drives lines through strategy's DTR/RTS toggle sequence to force
// the target into its ROM bootloader. sleep defaults to time.Sleep when
// nil.
func ToBoot(lines Lines, strategy Strategy, sleep Sleep) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	switch strategy {
	case Classic:
		return classicSequence(lines, sleep)
	case UsbJtagSerial:
		return usbJtagSerialSequence(lines, sleep)
	default:
		return classicSequence(lines, sleep)
	}
}

func classicSequence(l Lines, sleep Sleep) error {
	steps := []step{
		{dtr: off, rts: on},
		{wait: 500 * time.Millisecond},
		{dtr: on, rts: off},
		{wait: 500 * time.Millisecond},
		{dtr: off, rts: off},
	}
	return run(l, sleep, steps)
}

func usbJtagSerialSequence(l Lines, sleep Sleep) error {
	steps := []step{
		{dtr: off, rts: off},
		{wait: 100 * time.Millisecond},
		{dtr: on, rts: off},
		{wait: 100 * time.Millisecond},
		// RTS is raised, then DTR cleared, then RTS raised again: the
		// original toggles it twice in a row because the two
		// EscapeCommFunction calls that set/clear DTR land between two
		// SETRTS calls; net effect observed on the wire is just "RTS
		// high, DTR low".
		{dtr: off, rts: on},
		{wait: 100 * time.Millisecond},
		{dtr: off, rts: off},
	}
	return run(l, sleep, steps)
}

// FromBoot issues the plain hardware-reset pulse used to restart a running
// application (or exit the bootloader) without re-entering it.
func FromBoot(l Lines, sleep Sleep) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	if err := l.SetRTS(true); err != nil {
		return err
	}
	sleep(200 * time.Millisecond)
	if err := l.SetRTS(false); err != nil {
		return err
	}
	sleep(200 * time.Millisecond)
	return nil
}

type lineState int

const (
	unchanged lineState = iota
	on
	off
)

type step struct {
	dtr  lineState
	rts  lineState
	wait time.Duration
}

func run(l Lines, sleep Sleep, steps []step) error {
	for _, s := range steps {
		if s.wait > 0 {
			sleep(s.wait)
			continue
		}
		if s.dtr != unchanged {
			if err := l.SetDTR(s.dtr == on); err != nil {
				return err
			}
		}
		if s.rts != unchanged {
			if err := l.SetRTS(s.rts == on); err != nil {
				return err
			}
		}
	}
	return nil
}
