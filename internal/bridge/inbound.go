// Package bridge turns MIDI events into host commands and host notifications back into
// MIDI events, always against the generation published by the profile store.
package bridge

import (
	"context"
	"errors"

	"github.com/leandrodaf/midibridge/internal/profile"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// CommandSink accepts commands for the host. ipc.Channel implements it.
type CommandSink interface {
	Send(cmd contracts.Command) error
}

// Inbound resolves MIDI events into commands. Handle must only be called from one
// goroutine because it owns the control states of the current generation.
type Inbound struct {
	logger contracts.Logger
	diag   contracts.Diagnostics
	store  *profile.Store
	sink   CommandSink
}

// NewInbound returns an inbound bridge reading bindings from store.
func NewInbound(options *contracts.BridgeOptions, store *profile.Store, sink CommandSink) *Inbound {
	return &Inbound{
		logger: options.Logger,
		diag:   options.Diagnostics,
		store:  store,
		sink:   sink,
	}
}

// Run handles events until the stream closes or ctx is cancelled.
func (b *Inbound) Run(ctx context.Context, events <-chan contracts.MidiEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Handle(ev)
		}
	}
}

// Handle processes one event and reports whether a command was forwarded.
func (b *Inbound) Handle(ev contracts.MidiEvent) bool {
	gen := b.store.Current()

	binding, ok := gen.Table.ResolveInbound(ev.Address)
	if !ok {
		b.count(contracts.CounterUnboundEvents)
		b.logger.Debug("Unbound MIDI event",
			b.logger.Field().String("address", ev.Address.String()),
			b.logger.Field().Int("value", ev.Value))
		return false
	}

	trigger := binding.IsTrigger()
	if trigger && ev.Value == 0 {
		// release of a pressed trigger
		return false
	}

	state := gen.States.State(ev.Address, binding.Mode)
	value := state.Apply(ev)

	cmd := contracts.Command{
		ID:         binding.Command,
		Value:      value,
		Relative:   binding.Mode.Relative(),
		Trigger:    trigger,
		Generation: gen.ID,
	}
	if err := b.sink.Send(cmd); err != nil {
		if errors.Is(err, contracts.ErrChannelUnavailable) {
			b.logger.Warn("Trigger not delivered",
				b.logger.Field().String("command", string(cmd.ID)),
				b.logger.Field().Error("error", err))
		} else {
			b.logger.Error("Command not queued",
				b.logger.Field().String("command", string(cmd.ID)),
				b.logger.Field().Error("error", err))
		}
		return false
	}
	return true
}

func (b *Inbound) count(c contracts.Counter) {
	if b.diag != nil {
		b.diag.Add(c, 1)
	}
}
