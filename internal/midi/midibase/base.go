// Package midibase holds the driver-independent half of a MIDI port: frame parsing,
// filtering, the receive stream and the transmit goroutine.
package midibase

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/midibridge/internal/midi/wire"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// Writer transmits one encoded frame on the driver's output endpoint.
type Writer func(raw []byte) error

const defaultBuffer = 256

// Base is embedded by every driver. Drivers call Deliver from their input callback
// and hand a Writer to Start; everything else is shared.
type Base struct {
	logger contracts.Logger
	diag   contracts.Diagnostics
	filter *contracts.MIDIEventFilter

	events chan contracts.MidiEvent
	out    chan []byte
	done   chan struct{}

	mu        sync.Mutex // guards write and the names
	write     Writer
	inputName string
	outName   string

	deliverMu sync.RWMutex // held for writing only while closing events

	inputOpen  atomic.Bool
	outputOpen atomic.Bool
	closed     atomic.Bool
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a Base and starts its transmit goroutine.
func New(options *contracts.BridgeOptions) *Base {
	size := options.EventBuffer
	if size <= 0 {
		size = defaultBuffer
	}
	b := &Base{
		logger: options.Logger,
		diag:   options.Diagnostics,
		filter: options.MIDIEventFilter,
		events: make(chan contracts.MidiEvent, size),
		out:    make(chan []byte, size),
		done:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.transmit()
	return b
}

// Deliver parses one raw frame and queues it for Receive. It never blocks; malformed,
// filtered and overflowing frames are dropped and logged.
func (b *Base) Deliver(raw []byte, ts time.Time) {
	b.deliverMu.RLock()
	defer b.deliverMu.RUnlock()
	if b.closed.Load() {
		return
	}
	ev, err := wire.Parse(raw, ts)
	if err != nil {
		if errors.Is(err, wire.ErrUnsupportedMessage) {
			b.logger.Debug("Ignoring MIDI message", b.logger.Field().Error("reason", err))
			return
		}
		b.count(contracts.CounterMalformedFrames)
		b.logger.Warn("Dropping malformed MIDI frame",
			b.logger.Field().Error("error", err),
			b.logger.Field().String("frame", fmt.Sprintf("% X", raw)))
		return
	}
	if !b.filter.Allows(ev.Address.Type) {
		b.logger.Debug("MIDI message filtered out", b.logger.Field().String("address", ev.Address.String()))
		return
	}
	select {
	case b.events <- ev:
		b.count(contracts.CounterEventsReceived)
	default:
		b.count(contracts.CounterInputOverflow)
		b.logger.Warn("Event buffer full; dropping MIDI event", b.logger.Field().String("address", ev.Address.String()))
	}
}

// Receive returns the event stream. It is the same channel on every call.
func (b *Base) Receive() <-chan contracts.MidiEvent {
	return b.events
}

// Send encodes ev and queues it for the transmit goroutine.
func (b *Base) Send(ev contracts.MidiEvent) error {
	if b.closed.Load() {
		return fmt.Errorf("%w: port closed", contracts.ErrSendFailed)
	}
	if !b.outputOpen.Load() {
		return fmt.Errorf("%w: no output endpoint open", contracts.ErrSendFailed)
	}
	raw, err := wire.Encode(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrSendFailed, err)
	}
	select {
	case b.out <- raw:
		return nil
	default:
		return fmt.Errorf("%w: transmit queue full", contracts.ErrSendFailed)
	}
}

func (b *Base) transmit() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case raw := <-b.out:
			b.mu.Lock()
			write := b.write
			b.mu.Unlock()
			if write == nil {
				b.count(contracts.CounterSendFailures)
				continue
			}
			if err := write(raw); err != nil {
				b.count(contracts.CounterSendFailures)
				b.logger.Warn("MIDI transmit failed", b.logger.Field().Error("error", err))
				continue
			}
			b.count(contracts.CounterEventsSent)
		}
	}
}

// BindInput records an opened input endpoint.
func (b *Base) BindInput(name string) {
	b.mu.Lock()
	b.inputName = name
	b.mu.Unlock()
	b.inputOpen.Store(true)
}

// BindOutput records an opened output endpoint and its writer.
func (b *Base) BindOutput(name string, w Writer) {
	b.mu.Lock()
	b.outName = name
	b.write = w
	b.mu.Unlock()
	b.outputOpen.Store(true)
}

// InputLost marks the input endpoint as gone so the next device refresh reopens it.
func (b *Base) InputLost(reason error) {
	if b.inputOpen.Swap(false) {
		b.logger.Warn("MIDI input lost", b.logger.Field().Error("error", reason))
	}
}

// OutputLost marks the output endpoint as gone.
func (b *Base) OutputLost(reason error) {
	b.mu.Lock()
	b.write = nil
	b.mu.Unlock()
	if b.outputOpen.Swap(false) {
		b.logger.Warn("MIDI output lost", b.logger.Field().Error("error", reason))
	}
}

// Status reports the current bindings.
func (b *Base) Status() contracts.PortStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return contracts.PortStatus{
		Input:      b.inputName,
		Output:     b.outName,
		InputOpen:  b.inputOpen.Load(),
		OutputOpen: b.outputOpen.Load(),
	}
}

// Shutdown stops the transmit goroutine and closes the receive stream.
func (b *Base) Shutdown() {
	b.stopOnce.Do(func() {
		b.deliverMu.Lock()
		b.closed.Store(true)
		close(b.events)
		b.deliverMu.Unlock()

		b.inputOpen.Store(false)
		b.outputOpen.Store(false)
		close(b.done)
		b.wg.Wait()
	})
}

// Logger exposes the port logger to drivers.
func (b *Base) Logger() contracts.Logger {
	return b.logger
}

func (b *Base) count(c contracts.Counter) {
	if b.diag != nil {
		b.diag.Add(c, 1)
	}
}
