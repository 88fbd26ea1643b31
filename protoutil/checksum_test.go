package protoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumWorkedExample(t *testing.T) {
	// 0x01 ^ 0x02 ^ 0x03 cancels to zero, so the result is the seed itself.
	assert.Equal(t, uint32(0xEF), Checksum([]byte{1, 2, 3}))
}

func TestChecksumEmpty(t *testing.T) {
	assert.Equal(t, uint32(ChecksumSeed), Checksum(nil))
}

func TestLE32(t *testing.T) {
	got := LE32(nil, 0x11223344)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, got)
}

func TestSyncBodyShape(t *testing.T) {
	body := SyncBody()
	assert.Len(t, body, 36)
	assert.Equal(t, []byte{0x07, 0x07, 0x12, 0x20}, body[:4])
	for _, b := range body[4:] {
		assert.Equal(t, byte(0x55), b)
	}
}
