//go:build !darwin
// +build !darwin

package mididarwin

import (
	"fmt"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// NewMIDIPort reports that CoreMIDI is not available outside macOS.
func NewMIDIPort(options *contracts.BridgeOptions) (contracts.MidiPort, error) {
	options.Logger.Warn("CoreMIDI driver requested on a non-macOS system")
	return nil, fmt.Errorf("%w: coremidi requires darwin", contracts.ErrUnsupportedPlatform)
}
