package bridge

import (
	"context"
	"math"
	"sync"

	"github.com/leandrodaf/midibridge/internal/profile"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// EventSink transmits feedback events. contracts.MidiPort implements it.
type EventSink interface {
	Send(ev contracts.MidiEvent) error
}

// Outbound maps host notifications onto the reverse index and sends the resulting events.
// It remembers the last value of every parameter so feedback can be replayed after a
// profile switch.
//
// Parameter feedback and resync share one lock that is held while sending, so an event
// for a newer host value is never followed by a replayed older one.
type Outbound struct {
	logger contracts.Logger
	diag   contracts.Diagnostics
	store  *profile.Store
	port   EventSink

	onTerminate func()

	mu     sync.Mutex
	values map[contracts.CommandID]float64
}

// NewOutbound returns an outbound bridge. onTerminate runs when the host asks the bridge
// to shut down and may be nil.
func NewOutbound(options *contracts.BridgeOptions, store *profile.Store, port EventSink, onTerminate func()) *Outbound {
	return &Outbound{
		logger:      options.Logger,
		diag:        options.Diagnostics,
		store:       store,
		port:        port,
		onTerminate: onTerminate,
		values:      make(map[contracts.CommandID]float64),
	}
}

// Run handles notifications until the stream closes or ctx is cancelled.
func (b *Outbound) Run(ctx context.Context, notifications <-chan contracts.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			b.Handle(n)
		}
	}
}

// Handle processes one notification.
func (b *Outbound) Handle(n contracts.Notification) {
	switch n.Kind {
	case contracts.ParameterNotification:
		b.mu.Lock()
		b.values[n.ID] = n.Value
		matched := b.emit(b.store.Current(), n.ID, n.Value)
		b.mu.Unlock()
		if matched == 0 {
			b.count(contracts.CounterUnresolvedNotifications)
			b.logger.Debug("No feedback binding for parameter",
				b.logger.Field().String("command", string(n.ID)))
		}
	case contracts.SwitchProfileNotification:
		if _, err := b.store.SwitchByName(n.Text); err != nil {
			b.logger.Warn("Host profile switch failed",
				b.logger.Field().String("profile", n.Text),
				b.logger.Field().Error("error", err))
		}
	case contracts.LogNotification:
		b.logger.Info("Host message", b.logger.Field().String("text", n.Text))
	case contracts.SendKeyNotification:
		b.logger.Debug("Ignoring keystroke request", b.logger.Field().String("keys", n.Text))
	case contracts.TerminateNotification:
		b.logger.Info("Host requested shutdown")
		if b.onTerminate != nil {
			b.onTerminate()
		}
	}
}

// Resync replays every remembered parameter through the reverse index of gen.
// It is registered with the store so it runs after each activation. A generation that
// has already been superseded is skipped; its successor's resync covers it.
func (b *Outbound) Resync(gen *profile.Generation) {
	b.mu.Lock()
	if current := b.store.Current(); gen.ID < current.ID {
		b.mu.Unlock()
		b.logger.Debug("Skipping resync of superseded generation",
			b.logger.Field().Uint64("generation", gen.ID),
			b.logger.Field().Uint64("current", current.ID))
		return
	}
	sent := 0
	for id, v := range b.values {
		sent += b.emit(gen, id, v)
	}
	b.mu.Unlock()

	if sent > 0 {
		b.logger.Debug("Feedback resynchronized",
			b.logger.Field().Uint64("generation", gen.ID),
			b.logger.Field().Int("events", sent))
	}
}

// emit sends value to every absolute binding of id and returns how many bindings matched.
// Relative bindings match but are not fed back. b.mu must be held.
func (b *Outbound) emit(gen *profile.Generation, id contracts.CommandID, value float64) int {
	bindings := gen.Table.ResolveOutbound(id)
	for _, binding := range bindings {
		if binding.Mode.Relative() {
			continue
		}
		ev := contracts.MidiEvent{
			Address: binding.Address,
			Value:   Scale(value, binding.Address.Type.MaxValue()),
		}
		if err := b.port.Send(ev); err != nil {
			b.count(contracts.CounterSendFailures)
			b.logger.Debug("Feedback event dropped",
				b.logger.Field().String("address", ev.Address.String()),
				b.logger.Field().Error("error", err))
		}
	}
	return len(bindings)
}

// Scale maps a normalized value onto 0..max, rounding half away from zero.
func Scale(value float64, max int) int {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	if value >= 1 {
		return max
	}
	return int(math.Round(value * float64(max)))
}

func (b *Outbound) count(c contracts.Counter) {
	if b.diag != nil {
		b.diag.Add(c, 1)
	}
}
