// Package midiloop is an in-memory MIDI port. Frames injected on the input side are parsed
// exactly like hardware frames, and transmitted frames are readable from Sent.
package midiloop

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leandrodaf/midibridge/internal/midi/midibase"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// DefaultDevice is plugged in when the port is created.
const DefaultDevice = "loop"

var errSentFull = errors.New("loop sent buffer full")

// Port is a virtual duplex port.
type Port struct {
	*midibase.Base

	mu      sync.Mutex
	devices map[string]bool
	input   string
	output  string

	sent chan []byte
}

// NewMIDIPort creates a loop port with DefaultDevice plugged in.
func NewMIDIPort(options *contracts.BridgeOptions) (contracts.MidiPort, error) {
	return New(options, DefaultDevice), nil
}

// New creates a loop port exposing the given device names.
func New(options *contracts.BridgeOptions, devices ...string) *Port {
	p := &Port{
		Base:    midibase.New(options),
		devices: map[string]bool{},
		sent:    make(chan []byte, 1024),
	}
	for _, d := range devices {
		p.devices[d] = true
	}
	return p
}

// ListDevices lists the plugged devices; each is usable in both directions.
func (p *Port) ListDevices() ([]contracts.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.devices))
	for name := range p.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	devices := make([]contracts.DeviceInfo, 0, len(names))
	for _, name := range names {
		devices = append(devices, contracts.DeviceInfo{Name: name, EntityName: name, Manufacturer: "midibridge", Input: true, Output: true})
	}
	return devices, nil
}

// OpenInput binds the plugged device name as the input. An unknown name marks the input
// lost and returns contracts.ErrDeviceUnavailable.
func (p *Port) OpenInput(name string) error {
	p.mu.Lock()
	ok := p.devices[name]
	if ok {
		p.input = name
	}
	p.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: input %q not found", contracts.ErrDeviceUnavailable, name)
		p.InputLost(err)
		return err
	}
	p.BindInput(name)
	return nil
}

// OpenOutput binds the plugged device name as the output. Frames sent through it are
// readable from Sent.
func (p *Port) OpenOutput(name string) error {
	p.mu.Lock()
	ok := p.devices[name]
	if ok {
		p.output = name
	}
	p.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: output %q not found", contracts.ErrDeviceUnavailable, name)
		p.OutputLost(err)
		return err
	}
	p.BindOutput(name, func(raw []byte) error {
		select {
		case p.sent <- raw:
			return nil
		default:
			return errSentFull
		}
	})
	return nil
}

// Inject feeds one raw frame as if it arrived from the input device. It reports false
// when no input is open.
func (p *Port) Inject(raw []byte) bool {
	if !p.Status().InputOpen {
		return false
	}
	p.Deliver(raw, time.Now())
	return true
}

// Sent returns the frames written to the output device.
func (p *Port) Sent() <-chan []byte {
	return p.sent
}

// Plug makes name available.
func (p *Port) Plug(name string) {
	p.mu.Lock()
	p.devices[name] = true
	p.mu.Unlock()
}

// Unplug removes name; a bound endpoint of that name is lost.
func (p *Port) Unplug(name string) {
	p.mu.Lock()
	delete(p.devices, name)
	lostIn := p.input == name
	lostOut := p.output == name
	if lostIn {
		p.input = ""
	}
	if lostOut {
		p.output = ""
	}
	p.mu.Unlock()

	err := fmt.Errorf("%w: %q unplugged", contracts.ErrDeviceUnavailable, name)
	if lostIn {
		p.InputLost(err)
	}
	if lostOut {
		p.OutputLost(err)
	}
}

// Close stops the shared base. It never fails.
func (p *Port) Close() error {
	p.Base.Shutdown()
	return nil
}
