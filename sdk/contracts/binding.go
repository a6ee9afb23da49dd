package contracts

import "fmt"

// CommandID is an opaque application action name, such as "Exposure" or "develop.exposure".
type CommandID string

// ControlMode selects how raw control values are decoded.
type ControlMode int

const (
	// Absolute controls report a position; value/max is the application value.
	Absolute ControlMode = iota
	// RelativeTwosComplement encoders send 1..63 for up and 127..65 for down.
	RelativeTwosComplement
	// RelativeBinaryOffset encoders send 64 +/- delta.
	RelativeBinaryOffset
	// RelativeSignedBit encoders use bit 6 as sign and bits 0-5 as magnitude.
	RelativeSignedBit
)

var controlModeNames = map[ControlMode]string{
	Absolute:               "absolute",
	RelativeTwosComplement: "twos-complement",
	RelativeBinaryOffset:   "binary-offset",
	RelativeSignedBit:      "signed-bit",
}

func (m ControlMode) String() string {
	if s, ok := controlModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Relative reports whether the mode emits deltas rather than positions.
func (m ControlMode) Relative() bool {
	return m != Absolute
}

// ParseControlMode is the inverse of ControlMode.String. Empty selects Absolute.
func ParseControlMode(s string) (ControlMode, error) {
	if s == "" {
		return Absolute, nil
	}
	for m, name := range controlModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown control mode %q", s)
}

// Direction says which way a binding carries traffic.
type Direction int

const (
	// Bidirectional bindings are resolved both inbound and outbound.
	Bidirectional Direction = iota
	// InOnly bindings only turn MIDI into commands.
	InOnly
	// OutOnly bindings only turn host notifications into MIDI.
	OutOnly
)

func (d Direction) String() string {
	switch d {
	case InOnly:
		return "in"
	case OutOnly:
		return "out"
	}
	return "both"
}

// Inbound reports whether the binding participates in the forward index.
func (d Direction) Inbound() bool { return d != OutOnly }

// Outbound reports whether the binding participates in the reverse index.
func (d Direction) Outbound() bool { return d != InOnly }

// ParseDirection is the inverse of Direction.String. Empty selects Bidirectional.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "both", "bidirectional":
		return Bidirectional, nil
	case "in":
		return InOnly, nil
	case "out":
		return OutOnly, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// CommandKind classifies a command for the send queue overflow policy.
type CommandKind int

const (
	// KindAuto resolves to KindTrigger for note bindings and KindContinuous otherwise.
	KindAuto CommandKind = iota
	// KindContinuous commands carry a control position; stale values may be dropped.
	KindContinuous
	// KindTrigger commands are discrete, non-idempotent actions that are never dropped silently.
	KindTrigger
)

func (k CommandKind) String() string {
	switch k {
	case KindContinuous:
		return "continuous"
	case KindTrigger:
		return "trigger"
	}
	return "auto"
}

// ParseCommandKind is the inverse of CommandKind.String.
func ParseCommandKind(s string) (CommandKind, error) {
	switch s {
	case "", "auto":
		return KindAuto, nil
	case "continuous":
		return KindContinuous, nil
	case "trigger":
		return KindTrigger, nil
	}
	return 0, fmt.Errorf("unknown command kind %q", s)
}

// CommandBinding maps one MIDI address to one command.
type CommandBinding struct {
	Address   MidiAddress
	Command   CommandID
	Direction Direction
	Mode      ControlMode
	Kind      CommandKind
}

// IsTrigger resolves KindAuto against the address type.
func (b CommandBinding) IsTrigger() bool {
	switch b.Kind {
	case KindTrigger:
		return true
	case KindContinuous:
		return false
	}
	return b.Address.Type == Note && b.Mode == Absolute
}

// Profile is an ordered binding list plus metadata.
type Profile struct {
	Name     string
	Path     string
	Bindings []CommandBinding
}

// ProfilePersister is the persistence collaborator behind the profile store.
type ProfilePersister interface {
	LoadProfile(path string) (Profile, error)
	SaveProfile(profile Profile, path string) error
}
