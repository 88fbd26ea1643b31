package spiflash

import (
	"testing"

	"github.com/romflash/espflash/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type regWrite struct {
	addr  uint32
	value uint32
}

type fakeController struct {
	regs   map[uint32]uint32
	pinned map[uint32]uint32 // simulated device responses writes never overwrite
	writes []regWrite
}

func newFakeController() *fakeController {
	return &fakeController{regs: map[uint32]uint32{}, pinned: map[uint32]uint32{}}
}

func (f *fakeController) ReadReg(addr uint32) (uint32, error) {
	if v, ok := f.pinned[addr]; ok {
		return v, nil
	}
	return f.regs[addr], nil
}

func (f *fakeController) WriteReg(addr, value uint32) error {
	f.writes = append(f.writes, regWrite{addr, value})
	// SPI_CMD_REG's USR bit self-clears once the (simulated) transaction
	// completes; never latching it keeps waitIdle from spinning to its
	// deadline against a fake that otherwise never clears anything.
	if addr == testRegs().Cmd() {
		return nil
	}
	f.regs[addr] = value
	return nil
}

// valuesWritten returns every value written to addr, in write order.
func (f *fakeController) valuesWritten(addr uint32) []uint32 {
	var out []uint32
	for _, w := range f.writes {
		if w.addr == addr {
			out = append(out, w.value)
		}
	}
	return out
}

func testRegs() target.SPIRegs {
	return target.SPIRegs{
		Base: 0x3FF00000, Usr: 0x1C, Usr1: 0x20, Usr2: 0x24,
		W0: 0x80, MosiDlen: 0x28, MisoDlen: 0x2C, MosiDlenOffs: true,
	}
}

func TestReadJEDECID(t *testing.T) {
	c := newFakeController()
	regs := testRegs()
	r := NewRunner(c, regs)
	c.pinned[regs.W0] = 0x00C84016 // manufacturer 0xC8, type 0x40, capacity 0x16
	id, err := r.ReadJEDECID()
	require.NoError(t, err)
	assert.Equal(t, [3]byte{0xC8, 0x40, 0x16}, id)
}

func TestGetFlashSizeKnown(t *testing.T) {
	c := newFakeController()
	regs := testRegs()
	r := NewRunner(c, regs)
	c.pinned[regs.W0] = 0x00000016
	size, err := r.GetFlashSize()
	require.NoError(t, err)
	assert.Equal(t, uint32(4*1024*1024), size)
}

func TestGetFlashSizeUnknown(t *testing.T) {
	c := newFakeController()
	regs := testRegs()
	r := NewRunner(c, regs)
	c.pinned[regs.W0] = 0x00000000
	_, err := r.GetFlashSize()
	assert.Error(t, err)
}

func TestFlashSizeTable64MiBFixedTypo(t *testing.T) {
	assert.Equal(t, uint32(64*1024*1024), flashSizeIDToBytes[0x3A])
}

// TestCommandSavesAndRestoresUsrRegs exercises spec §4.9 steps 1 & 8: USR and
// USR2 must come back to whatever they held before the transaction, not
// whatever the transaction itself last wrote into them.
func TestCommandSavesAndRestoresUsrRegs(t *testing.T) {
	c := newFakeController()
	regs := testRegs()
	c.regs[regs.Usr] = 0xCAFEBABE
	c.regs[regs.Usr2] = 0xF00DF00D
	r := NewRunner(c, regs)

	_, err := r.command(jedecRDID, nil, 24, 0, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, uint32(0xCAFEBABE), c.regs[regs.Usr])
	assert.Equal(t, uint32(0xF00DF00D), c.regs[regs.Usr2])

	// but the transaction itself must have driven USR/USR2 to something
	// else in between, or the save/restore would be a no-op test.
	usrWrites := c.valuesWritten(regs.Usr)
	require.Len(t, usrWrites, 2)
	assert.NotEqual(t, uint32(0xCAFEBABE), usrWrites[0])
	assert.Equal(t, uint32(0xCAFEBABE), usrWrites[1])
}

// TestCommandComposesUsrFlagsForReadOnly checks the MISO-only read path (ReadJEDECID's
// shape) sets COMMAND|MISO but neither MOSI, ADDR, nor DUMMY.
func TestCommandComposesUsrFlagsForReadOnly(t *testing.T) {
	c := newFakeController()
	regs := testRegs()
	r := NewRunner(c, regs)

	_, err := r.command(jedecRDID, nil, 24, 0, 0, 0)
	require.NoError(t, err)

	writes := c.valuesWritten(regs.Usr)
	require.NotEmpty(t, writes)
	flags := writes[0]
	assert.Equal(t, usrCommandBit|usrMisoBit, flags)
}

// TestCommandWriteModeClocksOutData checks a write-mode (MOSI) command
// composes MOSI (not MISO) into USR and clocks the padded data word into W0.
func TestCommandWriteModeClocksOutData(t *testing.T) {
	c := newFakeController()
	regs := testRegs()
	r := NewRunner(c, regs)

	_, err := r.command(0x02, []byte{0x01, 0x02, 0x03}, 0, 0, 0, 0)
	require.NoError(t, err)

	writes := c.valuesWritten(regs.Usr)
	require.NotEmpty(t, writes)
	assert.Equal(t, usrCommandBit|usrMosiBit, writes[0])

	w0Writes := c.valuesWritten(regs.W0)
	require.NotEmpty(t, w0Writes)
	assert.Equal(t, uint32(0x00030201), w0Writes[0])
}

// TestCommandAddressPhase checks an addressed command sets USR_ADDR, writes
// the address register, and programs the address-length field into USR1.
func TestCommandAddressPhase(t *testing.T) {
	c := newFakeController()
	regs := testRegs()
	r := NewRunner(c, regs)

	_, err := r.command(0x03, nil, 8, 0x001000, 24, 0)
	require.NoError(t, err)

	writes := c.valuesWritten(regs.Usr)
	require.NotEmpty(t, writes)
	assert.Equal(t, usrCommandBit|usrMisoBit|usrAddrBit, writes[0])
	assert.Equal(t, []uint32{0x001000}, c.valuesWritten(regs.Addr()))
	usr1Writes := c.valuesWritten(regs.Usr1)
	require.NotEmpty(t, usr1Writes)
	assert.Equal(t, uint32(23)<<usr1AddrLenShift, usr1Writes[0])
}

func TestReadStatusRegister(t *testing.T) {
	c := newFakeController()
	regs := testRegs()
	r := NewRunner(c, regs)
	c.pinned[regs.W0] = 0x02
	sr, err := r.ReadStatusRegister()
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), sr)
}
