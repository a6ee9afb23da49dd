package contracts

import (
	"fmt"
	"time"
)

// MessageType is the kind of channel message a control emits.
type MessageType byte

const (
	// ControlChange is a CC message (0xB0).
	ControlChange MessageType = 0xB0
	// Note covers Note On (0x90) and Note Off (0x80); Note Off is delivered as value 0.
	Note MessageType = 0x90
	// PitchBend is a 14-bit pitch wheel message (0xE0).
	PitchBend MessageType = 0xE0
)

// String returns the profile spelling of the message type.
func (t MessageType) String() string {
	switch t {
	case ControlChange:
		return "cc"
	case Note:
		return "note"
	case PitchBend:
		return "pitchbend"
	}
	return fmt.Sprintf("0x%02X", byte(t))
}

// ParseMessageType is the inverse of MessageType.String.
func ParseMessageType(s string) (MessageType, error) {
	switch s {
	case "cc", "control-change":
		return ControlChange, nil
	case "note":
		return Note, nil
	case "pitchbend", "pitch-bend":
		return PitchBend, nil
	}
	return 0, fmt.Errorf("unknown message type %q", s)
}

// MaxValue is the largest raw value for the message type.
func (t MessageType) MaxValue() int {
	if t == PitchBend {
		return 16383
	}
	return 127
}

// MidiAddress identifies one physical control slot. It is comparable and used as a map key.
type MidiAddress struct {
	Channel uint8 // 0-15
	Type    MessageType
	Number  uint8 // controller or note number, 0 for pitch bend
}

// Valid reports whether every component is inside its MIDI range.
func (a MidiAddress) Valid() bool {
	if a.Channel > 15 || a.Number > 127 {
		return false
	}
	switch a.Type {
	case ControlChange, Note, PitchBend:
		return true
	}
	return false
}

func (a MidiAddress) String() string {
	return fmt.Sprintf("ch%d/%s/%d", a.Channel, a.Type, a.Number)
}

// MidiEvent is one parsed wire frame.
type MidiEvent struct {
	Address   MidiAddress
	Value     int // 0-127, or 0-16383 for pitch bend
	Timestamp time.Time
}

// MIDIEventFilter lets callers restrict which message types a port delivers.
type MIDIEventFilter struct {
	Types []MessageType
}

// Allows reports whether t passes the filter. A nil filter allows everything.
func (f *MIDIEventFilter) Allows(t MessageType) bool {
	if f == nil || len(f.Types) == 0 {
		return true
	}
	for _, allowed := range f.Types {
		if allowed == t {
			return true
		}
	}
	return false
}

// PortStatus reports which halves of a duplex port are currently bound.
type PortStatus struct {
	Input      string
	Output     string
	InputOpen  bool
	OutputOpen bool
}

// MidiPort is a duplex transport over a system MIDI input/output endpoint pair.
// It never interprets events beyond parsing them.
type MidiPort interface {
	ListDevices() ([]DeviceInfo, error) // Lists the endpoints known to the driver.
	OpenInput(name string) error        // Binds reception to the named endpoint; ErrDeviceUnavailable when missing.
	OpenOutput(name string) error       // Binds transmission to the named endpoint; ErrDeviceUnavailable when missing.
	Receive() <-chan MidiEvent          // Single, non-restartable stream of parsed events.
	Send(event MidiEvent) error         // Non-blocking enqueue; ErrSendFailed when it cannot be queued.
	Status() PortStatus                 // Current binding state.
	Close() error                       // Releases endpoints and stops the transmit loop.
}
