package bridge

import (
	"time"

	"github.com/leandrodaf/midibridge/internal/config"
	"github.com/leandrodaf/midibridge/internal/diag"
	"github.com/leandrodaf/midibridge/internal/ipc"
	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// Defaults applied when an option is left unset.
const (
	DefaultDeviceRefresh   = 2 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultResolution      = 127
	DefaultAccelWindow     = 120 * time.Millisecond
	DefaultAccelMaxFactor  = 4
)

// applyDefaultOptions sets default values for BridgeOptions if not explicitly provided.
//
// opts ...contracts.Option: A variadic list of option functions that can modify BridgeOptions.
//
// Returns:
//   - *contracts.BridgeOptions: The finalized options with defaults applied.
func applyDefaultOptions(opts ...contracts.Option) *contracts.BridgeOptions {
	options := &contracts.BridgeOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Set defaults if options are not provided
	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.LogFilePath != "" {
		options.Logger.SetDestination(contracts.FileLog, options.LogFilePath)
	}
	if options.Diagnostics == nil {
		options.Diagnostics = diag.NewCounters()
	}
	if options.CoreMIDIConfig == nil {
		options.CoreMIDIConfig = &contracts.CoreMIDIConfig{ClientName: "midibridge"}
	}
	if options.HostAddress == "" {
		options.HostAddress = config.DefaultHostAddress
		if options.HostReceiveAddress == "" {
			options.HostReceiveAddress = config.DefaultHostReceiveAddress
		}
	}
	if options.Backoff.Min == 0 {
		options.Backoff.Min = ipc.DefaultBackoffMin
	}
	if options.Backoff.Max == 0 {
		options.Backoff.Max = ipc.DefaultBackoffMax
	}
	if options.Backoff.Multiplier == 0 {
		options.Backoff.Multiplier = ipc.DefaultBackoffMultiplier
	}
	if options.Backoff.ResetAfter == 0 {
		options.Backoff.ResetAfter = ipc.DefaultBackoffResetAfter
	}
	if options.Resolution == 0 {
		options.Resolution = DefaultResolution
	}
	if options.Acceleration.Window == 0 {
		options.Acceleration.Window = DefaultAccelWindow
	}
	if options.Acceleration.MaxFactor == 0 {
		options.Acceleration.MaxFactor = DefaultAccelMaxFactor
	}
	if options.DeviceRefresh <= 0 {
		options.DeviceRefresh = DefaultDeviceRefresh
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = DefaultShutdownTimeout
	}

	options.Logger.SetLevel(options.LogLevel) // Set the logger to the specified log level
	return options
}
