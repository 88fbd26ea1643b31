package serialport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenPTYRoundTrip(t *testing.T) {
	master, slave, err := OpenPTY(nil, nil)
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	slave.SetReadTimeout(time.Second)
	_, err = master.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := slave.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestWrapAdapterBaud(t *testing.T) {
	master, slave, err := OpenPTY(nil, nil)
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	a := WrapAdapter(master, 115200)
	require.Equal(t, uint32(115200), a.Baud())
}
