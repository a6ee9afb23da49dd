// Package bridge is the entry point of the SDK: it composes a MIDI port, the profile store,
// both bridge directions and the host channel into one running bridge.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	inner "github.com/leandrodaf/midibridge/internal/bridge"
	"github.com/leandrodaf/midibridge/internal/diag"
	"github.com/leandrodaf/midibridge/internal/ipc"
	"github.com/leandrodaf/midibridge/internal/profile"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/leandrodaf/midibridge/sdk/midi"
	"go.uber.org/multierr"
)

// ErrStopTimeout is returned by Stop when a worker did not exit within the shutdown timeout.
var ErrStopTimeout = errors.New("bridge workers did not stop in time")

// Bridge is a running MIDI to host bridge.
type Bridge struct {
	options *contracts.BridgeOptions
	logger  contracts.Logger

	port     contracts.MidiPort
	store    *profile.Store
	channel  *ipc.Channel
	inbound  *inner.Inbound
	outbound *inner.Outbound
	status   *diag.Server

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	done     chan struct{}
	doneOnce sync.Once
	stopErr  error
}

// NewBridge creates a bridge with the specified options. Nothing runs until Start.
//
// opts ...contracts.Option: A variadic list of option functions to customize the bridge.
//
// Returns:
//   - *Bridge: The configured bridge.
//   - error: An error if the MIDI driver cannot be created or the initial profile is invalid.
func NewBridge(opts ...contracts.Option) (*Bridge, error) {
	options := applyDefaultOptions(opts...)

	port, err := midi.NewPort(options)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		options: options,
		logger:  options.Logger,
		port:    port,
		store:   profile.NewStore(options),
		channel: ipc.NewChannel(options),
		done:    make(chan struct{}),
	}
	b.inbound = inner.NewInbound(options, b.store, b.channel)
	b.outbound = inner.NewOutbound(options, b.store, port, b.terminate)
	b.store.OnActivate(b.outbound.Resync)

	if options.ProfilePath != "" {
		if _, err := b.store.Load(options.ProfilePath); err != nil {
			port.Close()
			return nil, fmt.Errorf("initial profile: %w", err)
		}
	}

	if options.StatusAddress != "" {
		counters, _ := options.Diagnostics.(*diag.Counters)
		b.status, err = diag.New(options.StatusAddress, b.logger, diag.Sources{
			Counters:   counters,
			Store:      b.store,
			Connection: b.channel.State,
			Pending:    b.channel.Pending,
			Port:       port.Status,
		})
		if err != nil {
			port.Close()
			return nil, err
		}
	}
	return b, nil
}

// Start opens the configured devices and launches the workers. Devices that are missing
// are retried on every refresh; only a status endpoint that cannot listen is an error.
func (b *Bridge) Start(ctx context.Context) error {
	err := errors.New("bridge already started")
	b.startOnce.Do(func() {
		err = nil
		if b.status != nil {
			if err = b.status.Start(); err != nil {
				return
			}
		}

		ctx, b.cancel = context.WithCancel(ctx)
		b.openDevices(true)

		b.spawn(func() {
			if err := b.channel.Run(ctx); err != nil {
				b.logger.Error("Host channel stopped", b.logger.Field().Error("error", err))
			}
		})
		b.spawn(func() { b.inbound.Run(ctx, b.port.Receive()) })
		b.spawn(func() { b.outbound.Run(ctx, b.channel.Notifications()) })
		b.spawn(func() { b.refreshDevices(ctx) })

		b.logger.Info("Bridge started",
			b.logger.Field().String("input", b.options.InputDevice),
			b.logger.Field().String("output", b.options.OutputDevice),
			b.logger.Field().String("host", b.options.HostAddress))
	})
	return err
}

func (b *Bridge) spawn(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Stop cancels the workers, closes the port and the status endpoint, and waits for the
// workers up to the shutdown timeout. It is safe to call more than once.
func (b *Bridge) Stop() error {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.options.ShutdownTimeout)
		defer cancel()

		var err error
		if b.status != nil {
			err = multierr.Append(err, b.status.Shutdown(ctx))
		}
		err = multierr.Append(err, b.port.Close())

		finished := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-ctx.Done():
			err = multierr.Append(err, ErrStopTimeout)
		}

		b.stopErr = err
		b.terminate()
		if err != nil {
			b.logger.Error("Bridge stopped with errors", b.logger.Field().Error("error", err))
		} else {
			b.logger.Info("Bridge stopped")
		}
	})
	return b.stopErr
}

// Done is closed when the host asks the bridge to terminate or after Stop.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) terminate() {
	b.doneOnce.Do(func() { close(b.done) })
}

// Store exposes the profile store for activation, switching and saving.
func (b *Bridge) Store() *profile.Store {
	return b.store
}

// Port returns the MIDI port in use.
func (b *Bridge) Port() contracts.MidiPort {
	return b.port
}

// ListDevices lists the endpoints of the active driver.
func (b *Bridge) ListDevices() ([]contracts.DeviceInfo, error) {
	return b.port.ListDevices()
}

// Connection returns the host channel state.
func (b *Bridge) Connection() contracts.ConnectionState {
	return b.channel.State()
}

// Counters returns a snapshot of the diagnostics counters, or nil when the caller supplied
// its own Diagnostics sink.
func (b *Bridge) Counters() map[string]uint64 {
	if c, ok := b.options.Diagnostics.(*diag.Counters); ok {
		return c.Snapshot()
	}
	return nil
}

// StatusAddress is the bound status endpoint address, or "" when disabled.
func (b *Bridge) StatusAddress() string {
	if b.status == nil {
		return ""
	}
	return b.status.Addr()
}

func (b *Bridge) refreshDevices(ctx context.Context) {
	ticker := time.NewTicker(b.options.DeviceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.openDevices(false)
		}
	}
}

// openDevices (re)opens every configured endpoint that is closed or no longer listed.
// Failures are warnings on the first attempt and debug afterwards.
func (b *Bridge) openDevices(first bool) {
	in, out := b.options.InputDevice, b.options.OutputDevice
	if in == "" && out == "" {
		return
	}
	st := b.port.Status()

	listedIn, listedOut := st.InputOpen, st.OutputOpen
	if st.InputOpen || st.OutputOpen {
		devices, err := b.port.ListDevices()
		if err != nil {
			b.logger.Debug("MIDI device listing failed", b.logger.Field().Error("error", err))
		} else {
			listedIn, listedOut = false, false
			for _, d := range devices {
				listedIn = listedIn || (d.Input && d.Name == in)
				listedOut = listedOut || (d.Output && d.Name == out)
			}
		}
	}

	report := b.logger.Debug
	if first {
		report = b.logger.Warn
	}
	if in != "" && (!st.InputOpen || !listedIn) {
		if err := b.port.OpenInput(in); err != nil {
			report("MIDI input not available", b.logger.Field().String("device", in), b.logger.Field().Error("error", err))
		} else if !first {
			b.logger.Info("MIDI input reopened", b.logger.Field().String("device", in))
		}
	}
	if out != "" && (!st.OutputOpen || !listedOut) {
		if err := b.port.OpenOutput(out); err != nil {
			report("MIDI output not available", b.logger.Field().String("device", out), b.logger.Field().Error("error", err))
		} else if !first {
			b.logger.Info("MIDI output reopened", b.logger.Field().String("device", out))
		}
	}
}
