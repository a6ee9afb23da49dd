package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/leandrodaf/midibridge/internal/logger"
	"github.com/leandrodaf/midibridge/sdk/bridge"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

func main() {
	log := logger.NewDevelopmentLogger()

	b, err := bridge.NewBridge(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
		contracts.WithDevices("X-TOUCH MINI", "X-TOUCH MINI"),
		contracts.WithHostAddress("127.0.0.1:54778", "127.0.0.1:54779"),
		contracts.WithMIDIEventFilter(contracts.MIDIEventFilter{
			Types: []contracts.MessageType{contracts.ControlChange, contracts.Note},
		}),
	)
	if err != nil {
		log.Error("Failed to initialize bridge", log.Field().Error("error", err))
		return
	}

	devices, err := b.ListDevices()
	if err != nil || len(devices) == 0 {
		log.Error("No MIDI devices found or error listing devices", log.Field().Error("error", err))
	}
	fmt.Println("Available MIDI devices:", devices)

	_, err = b.Store().Activate(contracts.Profile{
		Name: "develop",
		Bindings: []contracts.CommandBinding{
			{Address: contracts.MidiAddress{Channel: 0, Type: contracts.ControlChange, Number: 1}, Command: "Exposure"},
			{Address: contracts.MidiAddress{Channel: 0, Type: contracts.ControlChange, Number: 2}, Command: "Temperature", Mode: contracts.RelativeTwosComplement},
			{Address: contracts.MidiAddress{Channel: 0, Type: contracts.Note, Number: 8}, Command: "Pick"},
		},
	})
	if err != nil {
		log.Error("Invalid profile", log.Field().Error("error", err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := b.Start(ctx); err != nil {
		log.Error("Failed to start bridge", log.Field().Error("error", err))
		return
	}
	defer b.Stop()

	fmt.Println("Bridging MIDI events... Press Ctrl+C to exit.")
	select {
	case <-ctx.Done():
	case <-b.Done():
	}
}
