//go:build darwin
// +build darwin

package mididarwin

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leandrodaf/midibridge/internal/midi/midibase"
	"github.com/leandrodaf/midibridge/internal/midi/wire"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"github.com/youpy/go-coremidi"
)

// Error definitions for MIDI connection and handling issues.
var (
	ErrCreateInputPort  = errors.New("error creating input port")
	ErrCreateOutputPort = errors.New("error creating output port")
	ErrConnectSource    = errors.New("error connecting to MIDI source")
)

// internalPortConnection is an interface for handling disconnection from a MIDI port.
type internalPortConnection interface {
	Disconnect()
}

// Port is a duplex CoreMIDI port. Reception runs on the CoreMIDI callback thread and is
// handed to the shared base; transmission goes through the base transmit goroutine.
type Port struct {
	*midibase.Base

	client coremidi.Client

	mu       sync.Mutex // guards the fields below
	inPort   *coremidi.InputPort
	portConn internalPortConnection
	outPort  *coremidi.OutputPort
}

// NewMIDIPort creates the CoreMIDI client. No endpoint is opened yet.
func NewMIDIPort(options *contracts.BridgeOptions) (contracts.MidiPort, error) {
	name := "midibridge"
	if options.CoreMIDIConfig != nil && options.CoreMIDIConfig.ClientName != "" {
		name = options.CoreMIDIConfig.ClientName
	}
	client, err := coremidi.NewClient(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrDeviceUnavailable, err)
	}
	options.Logger.Info("MIDI client successfully created", options.Logger.Field().String("client", name))

	return &Port{
		Base:   midibase.New(options),
		client: client,
	}, nil
}

// ListDevices returns every CoreMIDI source and destination.
func (p *Port) ListDevices() ([]contracts.DeviceInfo, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI sources: %w", err)
	}
	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI destinations: %w", err)
	}

	devices := make([]contracts.DeviceInfo, 0, len(sources)+len(destinations))
	for _, source := range sources {
		entity := source.Entity()
		devices = append(devices, contracts.DeviceInfo{
			Name:         source.Name(),
			EntityName:   entity.Name(),
			Manufacturer: entity.Manufacturer(),
			Input:        true,
		})
	}
	for _, dest := range destinations {
		entity := dest.Entity()
		devices = append(devices, contracts.DeviceInfo{
			Name:         dest.Name(),
			EntityName:   entity.Name(),
			Manufacturer: entity.Manufacturer(),
			Output:       true,
		})
	}
	return devices, nil
}

// OpenInput connects the input port to the source called name, replacing any previous source.
func (p *Port) OpenInput(name string) error {
	sources, err := coremidi.AllSources()
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrDeviceUnavailable, err)
	}
	var source *coremidi.Source
	for i := range sources {
		if sources[i].Name() == name {
			source = &sources[i]
			break
		}
	}
	if source == nil {
		err := fmt.Errorf("%w: source %q not found", contracts.ErrDeviceUnavailable, name)
		p.InputLost(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.portConn != nil {
		p.portConn.Disconnect()
		p.portConn = nil
	}
	if p.inPort == nil {
		inPort, err := coremidi.NewInputPort(p.client, "Input Port", p.handleMIDIMessage)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCreateInputPort, err)
		}
		p.inPort = &inPort
	}
	conn, err := p.inPort.Connect(*source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectSource, err)
	}
	p.portConn = conn
	p.BindInput(name)
	p.Logger().Info("MIDI input connected", p.Logger().Field().String("device", name))
	return nil
}

// OpenOutput binds transmission to the destination called name.
func (p *Port) OpenOutput(name string) error {
	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrDeviceUnavailable, err)
	}
	var dest *coremidi.Destination
	for i := range destinations {
		if destinations[i].Name() == name {
			dest = &destinations[i]
			break
		}
	}
	if dest == nil {
		err := fmt.Errorf("%w: destination %q not found", contracts.ErrDeviceUnavailable, name)
		p.OutputLost(err)
		return err
	}

	p.mu.Lock()
	if p.outPort == nil {
		outPort, err := coremidi.NewOutputPort(p.client, "Output Port")
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrCreateOutputPort, err)
		}
		p.outPort = &outPort
	}
	outPort := p.outPort
	p.mu.Unlock()

	p.BindOutput(name, func(raw []byte) error {
		packet := coremidi.NewPacket(raw, 0) // timestamp 0 sends immediately
		return packet.Send(outPort, dest)
	})
	p.Logger().Info("MIDI output connected", p.Logger().Field().String("device", name))
	return nil
}

// handleMIDIMessage runs on the CoreMIDI thread. A packet may carry several messages.
func (p *Port) handleMIDIMessage(_ coremidi.Source, packet coremidi.Packet) {
	now := time.Now()
	for _, frame := range wire.Split(packet.Data) {
		p.Deliver(frame, now)
	}
}

// Close disconnects the source and stops the shared base.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.portConn != nil {
		p.portConn.Disconnect()
		p.portConn = nil
	}
	p.mu.Unlock()
	p.Base.Shutdown()
	p.Logger().Info("MIDI port closed")
	return nil
}
