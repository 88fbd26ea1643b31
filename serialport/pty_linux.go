package serialport

import (
	"syscall"
	"unsafe"
)

// Winsize mirrors struct winsize from <asm/termios.h>.
type Winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// SetLockPT locks or unlocks the pty pair rooted at this master descriptor.
// A freshly opened /dev/ptmx starts locked; the peer cannot be opened until
// it is unlocked.
func (p *Port) SetLockPT(lock bool) error {
	var v int32
	if lock {
		v = 1
	}
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.f), tiocsptlck, uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return errno
	}
	return nil
}

// GetPTPeer opens the slave end of the pty pair rooted at this master
// descriptor, equivalent to opening /dev/pts/N by number.
func (p *Port) GetPTPeer(flags int) (*Port, error) {
	fd, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.f), tiocgptpeer, uintptr(flags))
	if errno != 0 {
		return nil, errno
	}
	return &Port{options: NewOptions(), f: int(fd)}, nil
}

// SetWinSize reports a terminal window size to the Port. espflash does not
// drive a terminal, but the fake bootloader test harness opens PTYs through
// this same path and some kernels expect a winsize ioctl before reads are
// delivered reliably in canonical mode, so it is kept available.
func (p *Port) SetWinSize(w *Winsize) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.f), tiocswinsz, uintptr(unsafe.Pointer(w)))
	if errno != 0 {
		return errno
	}
	return nil
}

// OpenPTY finds an available pseudoterminal and returns a master and slave
// port. If termp is non-nil, the slave port is configured with the given
// termios. If winp is non-nil, the slave port is configured with the given
// window size.
//
// This is not used by the flashing path (which always talks to a real
// device node); it backs the fake-bootloader test harness, standing in for
// hardware a unit test cannot open.
func OpenPTY(termp *Termios, winp *Winsize) (*Port, *Port, error) {
	master, err := Open("/dev/ptmx", nil)
	if err != nil {
		return nil, nil, err
	}
	if err := master.SetLockPT(false); err != nil {
		master.Close()
		return nil, nil, err
	}
	slave, err := master.GetPTPeer(syscall.O_RDWR | syscall.O_NOCTTY)
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	if termp != nil {
		if err := slave.SetAttr(TCSANOW, termp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}
	if winp != nil {
		if err := slave.SetWinSize(winp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}

	return master, slave, nil
}
