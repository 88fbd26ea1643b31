// Package spiflash programs the target's SPI "user mode" controller
// directly to issue raw flash opcodes (RDID, read status, etc.) the ROM
// bootloader's own command set doesn't expose, plus an optional host-side
// cross-check (hostspi.go) that bypasses the bootloader entirely.
package spiflash

import (
	"fmt"
	"time"

	"github.com/romflash/espflash/target"
)

const (
	jedecRDID   = 0x9F
	jedecReadSR = 0x05

	// SPI_USR register flags (run_spi's flags word).
	usrCommandBit = uint32(1) << 31
	usrAddrBit    = uint32(1) << 30
	usrDummyBit   = uint32(1) << 29
	usrMisoBit    = uint32(1) << 28
	usrMosiBit    = uint32(1) << 27

	// SPI_CMD_REG "start transaction" bit.
	cmdUsrBit = uint32(1) << 18

	usr2CmdLenShift  = 28
	usr1AddrLenShift = 26

	usr1MosiBitlenShift = 17
	usr1MisoBitlenShift = 8
)

// Controller is the capability the command runner needs from a live
// session: register read/write over the transport that's already talking
// to the bootloader (or stub).
type Controller interface {
	ReadReg(addr uint32) (uint32, error)
	WriteReg(addr uint32, value uint32) error
}

// Runner issues raw SPI flash opcodes by poking a target family's "user
// mode" SPI controller registers, the same mechanism the ROM bootloader
// itself uses internally for FLASH_BEGIN/FLASH_DATA.
type Runner struct {
	c    Controller
	regs target.SPIRegs
}

func NewRunner(c Controller, regs target.SPIRegs) *Runner {
	return &Runner{c: c, regs: regs}
}

// command issues a single SPI "user mode" transaction per §4.9's
// run_spi(command, data, read_bits, addr, addr_len, dummy_len) contract:
// it saves USR/USR2, programs the MOSI/MISO/address/dummy length fields and
// the USR flag bits for whichever phases are actually in play, clocks out
// data (if any), starts the transaction, waits for it to clear, reads back
// W0, and restores USR/USR2 before returning.
func (r *Runner) command(opcode byte, data []byte, readBits int, addr uint32, addrBits int, dummyBits int) (uint32, error) {
	oldUsr, err := r.c.ReadReg(r.regs.Usr)
	if err != nil {
		return 0, err
	}
	oldUsr2, err := r.c.ReadReg(r.regs.Usr2)
	if err != nil {
		return 0, err
	}

	mosiBits := len(data) * 8
	if err := r.setDataLen(mosiBits, readBits, addrBits, dummyBits); err != nil {
		return 0, err
	}

	flags := usrCommandBit
	if readBits > 0 {
		flags |= usrMisoBit
	}
	if mosiBits > 0 {
		flags |= usrMosiBit
	}
	if addrBits > 0 {
		flags |= usrAddrBit
	}
	if dummyBits > 0 {
		flags |= usrDummyBit
	}
	if err := r.c.WriteReg(r.regs.Usr, flags); err != nil {
		return 0, err
	}
	if err := r.c.WriteReg(r.regs.Usr2, (uint32(7)<<usr2CmdLenShift)|uint32(opcode)); err != nil {
		return 0, err
	}
	if addrBits > 0 {
		if err := r.c.WriteReg(r.regs.Addr(), addr); err != nil {
			return 0, err
		}
	}
	if err := r.writeData(data); err != nil {
		return 0, err
	}
	if err := r.c.WriteReg(r.regs.Cmd(), cmdUsrBit); err != nil {
		return 0, err
	}
	if err := r.waitIdle(); err != nil {
		return 0, err
	}
	status, err := r.c.ReadReg(r.regs.W0)
	if err != nil {
		return 0, err
	}

	if err := r.c.WriteReg(r.regs.Usr, oldUsr); err != nil {
		return 0, err
	}
	if err := r.c.WriteReg(r.regs.Usr2, oldUsr2); err != nil {
		return 0, err
	}
	return status, nil
}

// writeData clears W0 when there's nothing to clock out, or pads data to a
// 4-byte multiple and writes it across W0, W0+4, ... as little-endian words.
func (r *Runner) writeData(data []byte) error {
	if len(data) == 0 {
		return r.c.WriteReg(r.regs.W0, 0)
	}
	padded := data
	if rem := len(data) % 4; rem != 0 {
		padded = make([]byte, len(data)+(4-rem))
		copy(padded, data)
	}
	reg := r.regs.W0
	for i := 0; i < len(padded); i += 4 {
		word := uint32(padded[i]) | uint32(padded[i+1])<<8 | uint32(padded[i+2])<<16 | uint32(padded[i+3])<<24
		if err := r.c.WriteReg(reg, word); err != nil {
			return err
		}
		reg += 4
	}
	return nil
}

// setDataLen programs the MOSI/MISO/address/dummy bit-length fields. Older
// silicon (ESP8266) packs MOSI/MISO lengths into USR1 bit fields; every
// family since keeps them in dedicated MOSI_DLEN/MISO_DLEN registers,
// tracked per family by SPIRegs.MosiDlenOffs — but both eras share the
// same USR1 address-length/dummy-length encoding.
func (r *Runner) setDataLen(mosiBits, misoBits, addrBits, dummyBits int) error {
	lengthFlags := uint32(0)
	if dummyBits > 0 {
		lengthFlags |= uint32(dummyBits - 1)
	}
	if addrBits > 0 {
		lengthFlags |= uint32(addrBits-1) << usr1AddrLenShift
	}

	if r.regs.MosiDlenOffs {
		if mosiBits > 0 {
			if err := r.c.WriteReg(r.regs.MosiDlen, uint32(mosiBits-1)); err != nil {
				return err
			}
		}
		if misoBits > 0 {
			if err := r.c.WriteReg(r.regs.MisoDlen, uint32(misoBits-1)); err != nil {
				return err
			}
		}
		if lengthFlags == 0 {
			return nil
		}
		return r.c.WriteReg(r.regs.Usr1, lengthFlags)
	}

	mosiMask := uint32(0)
	if mosiBits > 0 {
		mosiMask = uint32(mosiBits - 1)
	}
	misoMask := uint32(0)
	if misoBits > 0 {
		misoMask = uint32(misoBits - 1)
	}
	lengthFlags |= (misoMask << usr1MisoBitlenShift) | (mosiMask << usr1MosiBitlenShift)
	return r.c.WriteReg(r.regs.Usr1, lengthFlags)
}

func (r *Runner) waitIdle() error {
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		v, err := r.c.ReadReg(r.regs.Cmd())
		if err != nil {
			return err
		}
		if v&cmdUsrBit == 0 {
			return nil
		}
	}
	return fmt.Errorf("spiflash: SPI controller stuck")
}

// ReadJEDECID issues RDID (0x9F) through the bootloader-owned SPI
// controller and returns the raw manufacturer/type/capacity bytes.
func (r *Runner) ReadJEDECID() ([3]byte, error) {
	v, err := r.command(jedecRDID, nil, 24, 0, 0, 0)
	var out [3]byte
	if err != nil {
		return out, err
	}
	out[0] = byte(v >> 16)
	out[1] = byte(v >> 8)
	out[2] = byte(v)
	return out, nil
}

// ReadStatusRegister issues RDSR (0x05) and returns the 1-byte status
// register. Exercises the same MISO-only path as ReadJEDECID but with no
// address phase, the simplest shape the run_spi contract supports.
func (r *Runner) ReadStatusRegister() (byte, error) {
	v, err := r.command(jedecReadSR, nil, 8, 0, 0, 0)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

// flashSizeIDToBytes maps a JEDEC capacity byte to flash size in bytes.
// The 0x3A entry is 64MiB (64*1024*1024); a transcription bug in the
// original transposed two digits, making it 64*1024*1042.
var flashSizeIDToBytes = map[byte]uint32{
	0x12: 256 * 1024,
	0x13: 512 * 1024,
	0x14: 1 * 1024 * 1024,
	0x15: 2 * 1024 * 1024,
	0x16: 4 * 1024 * 1024,
	0x17: 8 * 1024 * 1024,
	0x18: 16 * 1024 * 1024,
	0x19: 32 * 1024 * 1024,
	0x20: 32 * 1024 * 1024,
	0x21: 64 * 1024 * 1024,
	0x32: 256 * 1024,
	0x33: 512 * 1024,
	0x34: 1 * 1024 * 1024,
	0x35: 2 * 1024 * 1024,
	0x36: 4 * 1024 * 1024,
	0x37: 8 * 1024 * 1024,
	0x38: 16 * 1024 * 1024,
	0x39: 32 * 1024 * 1024,
	0x3A: 64 * 1024 * 1024,
}

// GetFlashSize reads the JEDEC capacity byte and looks it up in the
// known size table, returning an error for an unrecognized id rather than
// guessing.
func (r *Runner) GetFlashSize() (uint32, error) {
	id, err := r.ReadJEDECID()
	if err != nil {
		return 0, err
	}
	size, ok := flashSizeIDToBytes[id[2]]
	if !ok {
		return 0, fmt.Errorf("spiflash: unrecognized flash capacity id 0x%02x", id[2])
	}
	return size, nil
}
