//go:build !windows
// +build !windows

package midiwindows

import (
	"fmt"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// NewMIDIPort reports that winmm is not available outside Windows.
func NewMIDIPort(options *contracts.BridgeOptions) (contracts.MidiPort, error) {
	options.Logger.Warn("winmm driver requested on a non-Windows system")
	return nil, fmt.Errorf("%w: winmm requires windows", contracts.ErrUnsupportedPlatform)
}
