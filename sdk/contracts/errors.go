package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. None of these is fatal to the process.
var (
	// ErrDeviceUnavailable is returned when a MIDI endpoint is missing or was removed.
	ErrDeviceUnavailable = errors.New("MIDI device unavailable")
	// ErrSendFailed is returned when an event cannot be queued for transmission.
	ErrSendFailed = errors.New("MIDI send failed")
	// ErrInvalidBinding is returned when a profile fails validation.
	ErrInvalidBinding = errors.New("invalid binding")
	// ErrChannelUnavailable is returned when a trigger command cannot be delivered to the host.
	ErrChannelUnavailable = errors.New("host channel unavailable")
	// ErrProtocolDesync is returned when a host frame cannot be parsed.
	ErrProtocolDesync = errors.New("host protocol desynchronized")
	// ErrUnsupportedPlatform is returned when no MIDI driver exists for the OS.
	ErrUnsupportedPlatform = errors.New("MIDI functionality is not available on this platform")
)

// InvalidBindingError lists every offending address of a rejected profile.
type InvalidBindingError struct {
	Profile   string
	Addresses []MidiAddress
	Reasons   []string
}

func (e *InvalidBindingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: profile %q:", ErrInvalidBinding, e.Profile)
	for i, reason := range e.Reasons {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteByte(' ')
		b.WriteString(reason)
	}
	return b.String()
}

func (e *InvalidBindingError) Unwrap() error {
	return ErrInvalidBinding
}
