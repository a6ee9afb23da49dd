// Package midi selects and constructs the MIDI port driver.
package midi

import (
	"fmt"
	"runtime"

	"github.com/leandrodaf/midibridge/internal/midi/mididarwin"
	"github.com/leandrodaf/midibridge/internal/midi/midiloop"
	"github.com/leandrodaf/midibridge/internal/midi/midirtmidi"
	"github.com/leandrodaf/midibridge/internal/midi/midiwindows"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// Initializer constructs a port for one driver.
type Initializer func(*contracts.BridgeOptions) (contracts.MidiPort, error)

// Driver names accepted by WithDriver.
const (
	DriverCoreMIDI = "coremidi"
	DriverWinMM    = "winmm"
	DriverRtMidi   = "rtmidi"
	DriverLoop     = "loop"
)

// driverInitializers maps driver names to port initializers.
var driverInitializers = map[string]Initializer{
	DriverCoreMIDI: mididarwin.NewMIDIPort,
	DriverWinMM:    midiwindows.NewMIDIPort,
	DriverRtMidi:   midirtmidi.NewMIDIPort,
	DriverLoop:     midiloop.NewMIDIPort,
}

// osDrivers maps OS names to their native driver.
var osDrivers = map[string]string{
	"darwin":  DriverCoreMIDI, // macOS (Darwin) MIDI client initializer.
	"windows": DriverWinMM,    // Windows MIDI client initializer.
}

// DriverFor returns the driver NewPort would use for the given explicit name and OS.
func DriverFor(name, goos string) string {
	if name != "" {
		return name
	}
	if d, ok := osDrivers[goos]; ok {
		return d
	}
	return DriverRtMidi
}

// NewPort initializes a MIDI port. opts.Driver picks the driver explicitly; otherwise the
// native driver of the current OS is used, falling back to rtmidi.
func NewPort(opts *contracts.BridgeOptions) (contracts.MidiPort, error) {
	name := DriverFor(opts.Driver, runtime.GOOS)
	initializer, exists := driverInitializers[name]
	if !exists {
		return nil, fmt.Errorf("%w: unknown driver %q", contracts.ErrUnsupportedPlatform, name)
	}
	opts.Logger.Debug("Creating MIDI port", opts.Logger.Field().String("driver", name))
	return initializer(opts)
}
