package slip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01, 0x02, 0x03},
		{End, Esc, EscEnd, EscEsc},
		{0xFF, End, 0x00, Esc},
	}
	for _, c := range cases {
		encoded := EncodeRaw(c)
		require.Equal(t, byte(End), encoded[0])
		require.Equal(t, byte(End), encoded[len(encoded)-1])
		decoded, ok := DecodeRaw(encoded[1 : len(encoded)-1])
		require.True(t, ok)
		assert.Equal(t, c, decoded)
	}
}

func TestDecodeRawBadEscape(t *testing.T) {
	_, ok := DecodeRaw([]byte{Esc, 0x01})
	assert.False(t, ok)
}

func TestEncodeCommandSyncFrame(t *testing.T) {
	payload := append([]byte{0x07, 0x07, 0x12, 0x20}, bytes55(32)...)
	frame := EncodeCommand(0x08, payload, 0)
	assert.Equal(t, byte(End), frame[0])
	assert.Equal(t, []byte{0x00, 0x08, 0x24, 0x00, 0x00, 0x00, 0x00, 0x00}, frame[1:9])
	assert.Equal(t, byte(End), frame[len(frame)-1])
	assert.Equal(t, 2+8+36, len(frame))
}

func TestParseReplyWorkedExample(t *testing.T) {
	raw := []byte{0x01, 0x0A, 0x04, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0x11, 0x22, 0x33, 0x44}
	reply := ParseReply(raw)
	require.True(t, reply.Valid)
	assert.Equal(t, byte(0x0A), reply.Command)
	assert.Equal(t, uint32(0xDDCCBBAA), reply.Value)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, reply.Data)
}

func TestParseReplyRejectsWrongDirection(t *testing.T) {
	raw := []byte{0x00, 0x0A, 0x00, 0x00, 0, 0, 0, 0}
	reply := ParseReply(raw)
	assert.False(t, reply.Valid)
}

func TestParseReplyRejectsLengthMismatch(t *testing.T) {
	raw := []byte{0x01, 0x0A, 0x02, 0x00, 0, 0, 0, 0, 0xAA}
	reply := ParseReply(raw)
	assert.False(t, reply.Valid)
}

func bytes55(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 0x55
	}
	return out
}
