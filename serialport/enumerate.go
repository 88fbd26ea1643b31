package serialport

import (
	"path/filepath"
	"sort"
)

// candidatePatterns covers the device node families a USB-UART bridge or
// a JTAG/USB-serial console typically shows up as on Linux.
var candidatePatterns = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyS*",
}

// ListPorts enumerates candidate serial device nodes present on the
// system. The connect engine walks this list in reverse.
func ListPorts() []string {
	var out []string
	for _, pattern := range candidatePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out
}
