// Package binding builds the immutable two-way index between MIDI addresses and commands.
package binding

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// Table is one generation of the binding index. It is never modified after Activate
// returns, so any number of goroutines may read it.
type Table struct {
	profile  string
	bindings []contracts.CommandBinding
	forward  map[contracts.MidiAddress]contracts.CommandBinding
	reverse  map[contracts.CommandID][]contracts.CommandBinding
}

// Activate validates profile and builds both indices in one pass. Duplicate forward keys,
// invalid addresses and empty or unencodable commands are all reported in one *contracts.InvalidBindingError.
func Activate(profile contracts.Profile) (*Table, error) {
	t := &Table{
		profile:  profile.Name,
		bindings: make([]contracts.CommandBinding, 0, len(profile.Bindings)),
		forward:  make(map[contracts.MidiAddress]contracts.CommandBinding, len(profile.Bindings)),
		reverse:  make(map[contracts.CommandID][]contracts.CommandBinding),
	}
	invalid := &contracts.InvalidBindingError{Profile: profile.Name}
	reject := func(addr contracts.MidiAddress, format string, args ...interface{}) {
		invalid.Addresses = append(invalid.Addresses, addr)
		invalid.Reasons = append(invalid.Reasons, addr.String()+": "+fmt.Sprintf(format, args...))
	}

	for _, b := range profile.Bindings {
		if !b.Address.Valid() {
			reject(b.Address, "address out of range")
			continue
		}
		if b.Command == "" {
			reject(b.Address, "empty command")
			continue
		}
		if strings.IndexFunc(string(b.Command), breaksFraming) >= 0 {
			reject(b.Address, "command %q contains whitespace or control characters", b.Command)
			continue
		}
		if b.Address.Type == contracts.PitchBend && b.Mode.Relative() {
			reject(b.Address, "pitch bend cannot be relative")
			continue
		}
		if b.Address.Type == contracts.PitchBend && b.Address.Number != 0 {
			reject(b.Address, "pitch bend has no number")
			continue
		}
		if b.Direction.Inbound() {
			if prev, dup := t.forward[b.Address]; dup {
				reject(b.Address, "bound to both %q and %q", prev.Command, b.Command)
				continue
			}
			t.forward[b.Address] = b
		}
		if b.Direction.Outbound() {
			t.reverse[b.Command] = append(t.reverse[b.Command], b)
		}
		t.bindings = append(t.bindings, b)
	}

	if len(invalid.Addresses) > 0 {
		return nil, invalid
	}
	return t, nil
}

// breaksFraming reports runes that cannot appear in a command ID on the host's
// "<id> <value>" line.
func breaksFraming(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

// ResolveInbound returns the binding for addr, if any.
func (t *Table) ResolveInbound(addr contracts.MidiAddress) (contracts.CommandBinding, bool) {
	b, ok := t.forward[addr]
	return b, ok
}

// ResolveOutbound returns every binding that feeds id back to hardware. The slice is
// shared and must not be modified.
func (t *Table) ResolveOutbound(id contracts.CommandID) []contracts.CommandBinding {
	return t.reverse[id]
}

// Profile is the name of the profile the table was built from.
func (t *Table) Profile() string { return t.profile }

// Bindings returns a copy of the accepted bindings in profile order.
func (t *Table) Bindings() []contracts.CommandBinding {
	out := make([]contracts.CommandBinding, len(t.bindings))
	copy(out, t.bindings)
	return out
}

// Len is the number of accepted bindings.
func (t *Table) Len() int { return len(t.bindings) }
