package reset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind string // "dtr", "rts", "wait"
	on   bool
	dur  time.Duration
}

type recordingLines struct {
	events []event
}

func (r *recordingLines) SetDTR(on bool) error {
	r.events = append(r.events, event{kind: "dtr", on: on})
	return nil
}

func (r *recordingLines) SetRTS(on bool) error {
	r.events = append(r.events, event{kind: "rts", on: on})
	return nil
}

func (r *recordingLines) sleep(d time.Duration) {
	r.events = append(r.events, event{kind: "wait", dur: d})
}

func TestClassicSequenceExactOrder(t *testing.T) {
	l := &recordingLines{}
	require.NoError(t, ToBoot(l, Classic, l.sleep))
	want := []event{
		{kind: "dtr", on: false},
		{kind: "rts", on: true},
		{kind: "wait", dur: 500 * time.Millisecond},
		{kind: "dtr", on: true},
		{kind: "rts", on: false},
		{kind: "wait", dur: 500 * time.Millisecond},
		{kind: "dtr", on: false},
		{kind: "rts", on: false},
	}
	assert.Equal(t, want, l.events)
}

func TestUsbJtagSerialSequenceNetRTSHighDTRLow(t *testing.T) {
	l := &recordingLines{}
	require.NoError(t, ToBoot(l, UsbJtagSerial, l.sleep))
	require.Len(t, l.events, 11)
	// The third edge group leaves RTS high and DTR low before the final release.
	assert.Equal(t, []event{{kind: "dtr", on: false}, {kind: "rts", on: true}}, l.events[6:8])
	last := l.events[len(l.events)-1]
	assert.Equal(t, event{kind: "rts", on: false}, last)
}

func TestFromBootPulsesRTS(t *testing.T) {
	l := &recordingLines{}
	require.NoError(t, FromBoot(l, l.sleep))
	want := []event{
		{kind: "rts", on: true},
		{kind: "wait", dur: 200 * time.Millisecond},
		{kind: "rts", on: false},
		{kind: "wait", dur: 200 * time.Millisecond},
	}
	assert.Equal(t, want, l.events)
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "classic", Classic.String())
	assert.Equal(t, "usb-jtag-serial", UsbJtagSerial.String())
}
