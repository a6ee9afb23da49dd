//go:build windows
// +build windows

package midiwindows

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/leandrodaf/midibridge/internal/midi/midibase"
	"github.com/leandrodaf/midibridge/internal/midi/wire"
	"github.com/leandrodaf/midibridge/sdk/contracts"
	"go.uber.org/multierr"
	"golang.org/x/sys/windows"
)

// Type definitions for MIDI handles
type (
	HMIDIIN  windows.Handle
	HMIDIOUT windows.Handle
)

// Constants for callback flags
const (
	CALLBACK_NULL     = 0x00000000 // No callback
	CALLBACK_FUNCTION = 0x00030000 // Indicates that the callback is a function
	MIDI_IO_STATUS    = 0x00000020 // MIDI input/output status
)

// Constants for MIDI message types
const (
	MIM_OPEN      = 0x3C1 // MIDI device opened
	MIM_CLOSE     = 0x3C2 // MIDI device closed
	MIM_DATA      = 0x3C3 // MIDI data received
	MIM_ERROR     = 0x3C5 // MIDI error
	MIM_LONGERROR = 0x3C6 // Long MIDI error
	MIM_MOREDATA  = 0x3CC // More MIDI data available
)

type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

type midiOutCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	wTechnology    uint16
	wVoices        uint16
	wNotes         uint16
	wChannelMask   uint16
	dwSupport      uint32
}

// Load the winmm.dll library and required functions
var (
	winmm                 = windows.NewLazySystemDLL("winmm.dll")
	procMidiInGetNumDevs  = winmm.NewProc("midiInGetNumDevs")
	procMidiInGetDevCaps  = winmm.NewProc("midiInGetDevCapsW")
	procMidiInOpen        = winmm.NewProc("midiInOpen")
	procMidiInStart       = winmm.NewProc("midiInStart")
	procMidiInStop        = winmm.NewProc("midiInStop")
	procMidiInClose       = winmm.NewProc("midiInClose")
	procMidiOutGetNumDevs = winmm.NewProc("midiOutGetNumDevs")
	procMidiOutGetDevCaps = winmm.NewProc("midiOutGetDevCapsW")
	procMidiOutOpen       = winmm.NewProc("midiOutOpen")
	procMidiOutShortMsg   = winmm.NewProc("midiOutShortMsg")
	procMidiOutClose      = winmm.NewProc("midiOutClose")
)

// windows.NewCallback slots are never released, so one trampoline serves every port and
// dwInstance carries a registry key instead of a Go pointer.
var (
	callbackOnce sync.Once
	callbackPtr  uintptr

	registryMu sync.RWMutex
	registry   = map[uintptr]*Port{}
	nextID     uintptr
)

func callback() uintptr {
	callbackOnce.Do(func() {
		callbackPtr = windows.NewCallback(midiInCallback)
	})
	return callbackPtr
}

// Port is a duplex winmm port.
type Port struct {
	*midibase.Base

	id uintptr

	mu        sync.Mutex // guards the handles
	inHandle  HMIDIIN
	outHandle HMIDIOUT
}

// NewMIDIPort creates a winmm port. No endpoint is opened yet.
func NewMIDIPort(options *contracts.BridgeOptions) (contracts.MidiPort, error) {
	p := &Port{Base: midibase.New(options)}

	registryMu.Lock()
	nextID++
	p.id = nextID
	registry[p.id] = p
	registryMu.Unlock()

	options.Logger.Info("MIDI client created for Windows")
	return p, nil
}

// ListDevices lists the winmm input and output devices.
func (p *Port) ListDevices() ([]contracts.DeviceInfo, error) {
	var devices []contracts.DeviceInfo

	r0, _, _ := procMidiInGetNumDevs.Call()
	for i := uint32(0); i < uint32(r0); i++ {
		var caps midiInCaps
		r1, _, _ := procMidiInGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r1 != 0 {
			p.Logger().Warn("Failed to get information for MIDI input device", p.Logger().Field().Int("index", int(i)))
			continue
		}
		name := windows.UTF16ToString(caps.szPname[:])
		devices = append(devices, contracts.DeviceInfo{
			Name:         name,
			EntityName:   name,
			Manufacturer: fmt.Sprintf("MID: %d PID: %d", caps.wMid, caps.wPid),
			Input:        true,
		})
	}

	r0, _, _ = procMidiOutGetNumDevs.Call()
	for i := uint32(0); i < uint32(r0); i++ {
		var caps midiOutCaps
		r1, _, _ := procMidiOutGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r1 != 0 {
			p.Logger().Warn("Failed to get information for MIDI output device", p.Logger().Field().Int("index", int(i)))
			continue
		}
		name := windows.UTF16ToString(caps.szPname[:])
		devices = append(devices, contracts.DeviceInfo{
			Name:         name,
			EntityName:   name,
			Manufacturer: fmt.Sprintf("MID: %d PID: %d", caps.wMid, caps.wPid),
			Output:       true,
		})
	}
	return devices, nil
}

func findInput(name string) (uint32, bool) {
	r0, _, _ := procMidiInGetNumDevs.Call()
	for i := uint32(0); i < uint32(r0); i++ {
		var caps midiInCaps
		if r1, _, _ := procMidiInGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps)); r1 != 0 {
			continue
		}
		if windows.UTF16ToString(caps.szPname[:]) == name {
			return i, true
		}
	}
	return 0, false
}

func findOutput(name string) (uint32, bool) {
	r0, _, _ := procMidiOutGetNumDevs.Call()
	for i := uint32(0); i < uint32(r0); i++ {
		var caps midiOutCaps
		if r1, _, _ := procMidiOutGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps)); r1 != 0 {
			continue
		}
		if windows.UTF16ToString(caps.szPname[:]) == name {
			return i, true
		}
	}
	return 0, false
}

// OpenInput opens and starts the input device called name.
func (p *Port) OpenInput(name string) error {
	deviceID, ok := findInput(name)
	if !ok {
		err := fmt.Errorf("%w: input %q not found", contracts.ErrDeviceUnavailable, name)
		p.InputLost(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inHandle != 0 {
		if err := p.closeInput(); err != nil {
			return fmt.Errorf("failed to stop previous MIDI capture: %w", err)
		}
	}

	var handle HMIDIIN
	r1, _, err := procMidiInOpen.Call(
		uintptr(unsafe.Pointer(&handle)),
		uintptr(deviceID),
		callback(),
		p.id,
		uintptr(CALLBACK_FUNCTION|MIDI_IO_STATUS),
	)
	if r1 != 0 {
		return fmt.Errorf("%w: midiInOpen %q: %v", contracts.ErrDeviceUnavailable, name, err)
	}
	if r1, _, err = procMidiInStart.Call(uintptr(handle)); r1 != 0 {
		procMidiInClose.Call(uintptr(handle))
		return fmt.Errorf("%w: midiInStart %q: %v", contracts.ErrDeviceUnavailable, name, err)
	}
	p.inHandle = handle
	p.BindInput(name)
	p.Logger().Info("MIDI input connected", p.Logger().Field().String("device", name))
	return nil
}

// OpenOutput opens the output device called name.
func (p *Port) OpenOutput(name string) error {
	deviceID, ok := findOutput(name)
	if !ok {
		err := fmt.Errorf("%w: output %q not found", contracts.ErrDeviceUnavailable, name)
		p.OutputLost(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.outHandle != 0 {
		procMidiOutClose.Call(uintptr(p.outHandle))
		p.outHandle = 0
	}
	var handle HMIDIOUT
	r1, _, err := procMidiOutOpen.Call(
		uintptr(unsafe.Pointer(&handle)),
		uintptr(deviceID),
		0,
		0,
		uintptr(CALLBACK_NULL),
	)
	if r1 != 0 {
		return fmt.Errorf("%w: midiOutOpen %q: %v", contracts.ErrDeviceUnavailable, name, err)
	}
	p.outHandle = handle
	p.BindOutput(name, func(raw []byte) error {
		var msg uint32
		for i, b := range raw {
			msg |= uint32(b) << (8 * i)
		}
		if r1, _, err := procMidiOutShortMsg.Call(uintptr(handle), uintptr(msg)); r1 != 0 {
			return fmt.Errorf("midiOutShortMsg: %v", err)
		}
		return nil
	})
	p.Logger().Info("MIDI output connected", p.Logger().Field().String("device", name))
	return nil
}

// midiInCallback processes incoming MIDI messages
func midiInCallback(hMidiIn uintptr, wMsg uint32, dwInstance uintptr, dwParam1 uintptr, dwParam2 uintptr) uintptr {
	registryMu.RLock()
	p := registry[dwInstance]
	registryMu.RUnlock()
	if p == nil {
		return 0
	}

	switch wMsg {
	case MIM_OPEN:
		p.Logger().Debug("MIDI device opened")
	case MIM_CLOSE:
		p.Logger().Debug("MIDI device closed")
	case MIM_DATA, MIM_MOREDATA:
		status := byte(dwParam1 & 0xFF)
		n := wire.FrameLength(status)
		if n == 0 {
			n = 1
		}
		raw := []byte{status, byte((dwParam1 >> 8) & 0xFF), byte((dwParam1 >> 16) & 0xFF)}
		p.Deliver(raw[:n], time.Now())
	case MIM_ERROR, MIM_LONGERROR:
		p.Logger().Warn("MIDI error from driver", p.Logger().Field().Int("msg", int(wMsg)))
	default:
		p.Logger().Debug("Unknown MIDI message", p.Logger().Field().Int("msg", int(wMsg)))
	}
	return 0
}

// closeInput stops the capture and releases the handle. Caller holds p.mu.
func (p *Port) closeInput() error {
	var err error
	if r1, _, e := procMidiInStop.Call(uintptr(p.inHandle)); r1 != 0 {
		err = multierr.Append(err, fmt.Errorf("midiInStop: %v", e))
	}
	if r1, _, e := procMidiInClose.Call(uintptr(p.inHandle)); r1 != 0 {
		err = multierr.Append(err, fmt.Errorf("midiInClose: %v", e))
	}
	p.inHandle = 0
	return err
}

// Close releases both devices and stops the shared base.
func (p *Port) Close() error {
	var err error

	p.mu.Lock()
	if p.inHandle != 0 {
		err = multierr.Append(err, p.closeInput())
	}
	p.mu.Unlock()

	registryMu.Lock()
	delete(registry, p.id)
	registryMu.Unlock()

	p.Base.Shutdown()

	p.mu.Lock()
	if p.outHandle != 0 {
		if r1, _, e := procMidiOutClose.Call(uintptr(p.outHandle)); r1 != 0 {
			err = multierr.Append(err, fmt.Errorf("midiOutClose: %v", e))
		}
		p.outHandle = 0
	}
	p.mu.Unlock()

	if err != nil {
		p.Logger().Error("Failed to close MIDI devices cleanly", p.Logger().Field().Error("error", err))
		return err
	}
	p.Logger().Info("MIDI capture stopped and devices closed")
	return nil
}
