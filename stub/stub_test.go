package stub_test

import (
	"testing"

	"github.com/romflash/espflash/internal/testrig"
	"github.com/romflash/espflash/stub"
	"github.com/romflash/espflash/target"
	"github.com/romflash/espflash/transport"
	"github.com/stretchr/testify/require"
)

func TestUploadAgainstFakeBootloader(t *testing.T) {
	h, err := testrig.New(0xFFF0C101)
	require.NoError(t, err)
	defer h.Close()

	tr := transport.New(h.Host)
	desc := target.NewESP8266()
	desc.StubBlob = target.Stub{
		Text:      []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03},
		TextStart: 0x40100000,
		Data:      []byte{0x11, 0x22},
		DataStart: 0x3FFE8000,
		Entry:     0x40100000,
	}

	err = stub.Upload(tr, desc, 4)
	require.NoError(t, err)
}

func TestUploadEmptySections(t *testing.T) {
	h, err := testrig.New(0x00F01D83)
	require.NoError(t, err)
	defer h.Close()

	tr := transport.New(h.Host)
	desc := target.NewESP32()
	desc.StubBlob = target.Stub{Entry: 0x40080000}

	err = stub.Upload(tr, desc, 0x1800)
	require.NoError(t, err)
}
