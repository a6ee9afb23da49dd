// Package midirtmidi is the portable MIDI driver, built on the rtmidi backend of gomidi.
package midirtmidi

import (
	"fmt"
	"sync"
	"time"

	"github.com/leandrodaf/midibridge/internal/midi/midibase"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/multierr"
)

// Port is a duplex rtmidi port.
type Port struct {
	*midibase.Base

	drv *rtmididrv.Driver

	mu     sync.Mutex
	in     drivers.In
	stopFn func()
	out    drivers.Out
}

// NewMIDIPort initialises the rtmidi driver. No endpoint is opened yet.
func NewMIDIPort(options *contracts.BridgeOptions) (contracts.MidiPort, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("%w: rtmididrv: %v", contracts.ErrDeviceUnavailable, err)
	}
	options.Logger.Info("rtmidi driver initialised")
	return &Port{Base: midibase.New(options), drv: drv}, nil
}

// ListDevices lists rtmidi inputs and outputs.
func (p *Port) ListDevices() ([]contracts.DeviceInfo, error) {
	ins, err := p.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	outs, err := p.drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	devices := make([]contracts.DeviceInfo, 0, len(ins)+len(outs))
	for _, in := range ins {
		devices = append(devices, contracts.DeviceInfo{Name: in.String(), EntityName: in.String(), Input: true})
	}
	for _, out := range outs {
		devices = append(devices, contracts.DeviceInfo{Name: out.String(), EntityName: out.String(), Output: true})
	}
	return devices, nil
}

// OpenInput starts listening on the input called name.
func (p *Port) OpenInput(name string) error {
	ins, err := p.drv.Ins()
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrDeviceUnavailable, err)
	}
	var found drivers.In
	for _, in := range ins {
		if in.String() == name {
			found = in
			break
		}
	}
	if found == nil {
		err := fmt.Errorf("%w: input %q not found", contracts.ErrDeviceUnavailable, name)
		p.InputLost(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.closeInput()

	if err := found.Open(); err != nil {
		return fmt.Errorf("%w: open %q: %v", contracts.ErrDeviceUnavailable, name, err)
	}
	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		p.Deliver(msg.Bytes(), time.Now())
	}, midi.HandleError(func(listenErr error) {
		// Runs on the listener goroutine; only flag the loss, the refresh loop reopens.
		p.InputLost(listenErr)
	}))
	if err != nil {
		_ = found.Close()
		return fmt.Errorf("%w: listen %q: %v", contracts.ErrDeviceUnavailable, name, err)
	}
	p.in = found
	p.stopFn = stop
	p.BindInput(name)
	p.Logger().Info("MIDI input connected", p.Logger().Field().String("device", name))
	return nil
}

// OpenOutput opens the output called name for transmission.
func (p *Port) OpenOutput(name string) error {
	outs, err := p.drv.Outs()
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrDeviceUnavailable, err)
	}
	var found drivers.Out
	for _, out := range outs {
		if out.String() == name {
			found = out
			break
		}
	}
	if found == nil {
		err := fmt.Errorf("%w: output %q not found", contracts.ErrDeviceUnavailable, name)
		p.OutputLost(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		_ = p.out.Close()
		p.out = nil
	}
	if err := found.Open(); err != nil {
		return fmt.Errorf("%w: open %q: %v", contracts.ErrDeviceUnavailable, name, err)
	}
	p.out = found
	p.BindOutput(name, found.Send)
	p.Logger().Info("MIDI output connected", p.Logger().Field().String("device", name))
	return nil
}

// closeInput stops the listener. Caller holds p.mu.
func (p *Port) closeInput() error {
	if p.stopFn != nil {
		p.stopFn()
		p.stopFn = nil
	}
	var err error
	if p.in != nil {
		err = p.in.Close()
		p.in = nil
	}
	return err
}

// Close stops the listener, closes both endpoints and the driver.
func (p *Port) Close() error {
	p.mu.Lock()
	err := p.closeInput()
	p.mu.Unlock()

	p.Base.Shutdown()

	p.mu.Lock()
	if p.out != nil {
		err = multierr.Append(err, p.out.Close())
		p.out = nil
	}
	p.mu.Unlock()

	err = multierr.Append(err, p.drv.Close())
	p.Logger().Info("MIDI port closed")
	return err
}
