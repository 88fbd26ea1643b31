package spiflash

import (
	ioctl "github.com/daedaluz/goioctl"
	"reflect"
	"syscall"
	"unsafe"
)

// HostProbe talks to a flash chip directly over a Linux spidev node
// (/dev/spidevX.Y), bypassing the bootloader entirely. Production test
// fixtures sometimes wire the target's flash chip to a second host SPI
// controller so the JEDEC ID can be read without a working bootloader;
// ReadJEDECID lets that direct reading be cross-checked against the value
// obtained in-band through Runner.GetFlashSize (§4.9).
type HostProbe struct {
	fd  int
	cfg *hostSPIConfig
}

type hostSPIConfig struct {
	mode      uint32
	bits      uint8
	speedHz   uint32
	delayUsec uint16
}

const spiIOCMagic = 'k'

type spiIOCTransfer struct {
	txBuf uint64
	rxBuf uint64

	len     uint32
	speedHz uint32

	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNbits        uint8
	rxNbits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

var (
	spiIOCWrMaxSpeedHz   = ioctl.IOW(spiIOCMagic, 4, 4)
	spiIOCWrBitsPerWord  = ioctl.IOW(spiIOCMagic, 3, 1)
	spiIOCWrMode32       = ioctl.IOW(spiIOCMagic, 5, 4)
	spiIOCMessage        = ioctl.IOW(spiIOCMagic, 0, unsafe.Sizeof(spiIOCTransfer{}))
)

// OpenHostProbe opens path (e.g. "/dev/spidev0.0") at the given clock speed
// in SPI mode 0, 8 bits per word — the mode every commodity NOR flash chip
// accepts.
func OpenHostProbe(path string, speedHz uint32) (*HostProbe, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	cfg := &hostSPIConfig{mode: 0, bits: 8, speedHz: speedHz}
	if err := ioctl.Ioctl(fd, spiIOCWrMaxSpeedHz, uintptr(unsafe.Pointer(&cfg.speedHz))); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := ioctl.Ioctl(fd, spiIOCWrBitsPerWord, uintptr(unsafe.Pointer(&cfg.bits))); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := ioctl.Ioctl(fd, spiIOCWrMode32, uintptr(unsafe.Pointer(&cfg.mode))); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return &HostProbe{fd: fd, cfg: cfg}, nil
}

func (d *HostProbe) tx(data []byte) ([]byte, error) {
	read := make([]byte, len(data))
	dataHeader := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	readHeader := (*reflect.SliceHeader)(unsafe.Pointer(&read))
	xfer := &spiIOCTransfer{
		txBuf:       uint64(dataHeader.Data),
		rxBuf:       uint64(readHeader.Data),
		len:         uint32(dataHeader.Len),
		speedHz:     d.cfg.speedHz,
		delayUsecs:  d.cfg.delayUsec,
		bitsPerWord: d.cfg.bits,
	}
	err := ioctl.Ioctl(d.fd, spiIOCMessage, uintptr(unsafe.Pointer(xfer)))
	return read, err
}

// ReadJEDECID issues RDID (0x9F) directly over the host SPI bus and returns
// the raw 3-byte manufacturer/type/capacity reply, the same reply shape
// Runner.GetFlashSize extracts its size-id byte from.
func (d *HostProbe) ReadJEDECID() ([3]byte, error) {
	reply, err := d.tx([]byte{jedecRDID, 0, 0, 0})
	var out [3]byte
	if err != nil {
		return out, err
	}
	copy(out[:], reply[1:4])
	return out, nil
}

func (d *HostProbe) Close() error {
	return syscall.Close(d.fd)
}
