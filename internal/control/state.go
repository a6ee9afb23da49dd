// Package control holds the per-control state machines that turn raw MIDI values into
// normalized application values.
//
// States are owned by the inbound goroutine. Nothing in this package is safe for concurrent
// use; the inbound bridge is the only writer and reader.
package control

import (
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// State is the state machine of one bound MIDI address.
type State struct {
	params    Params
	lastAt    time.Time
	lastValue int
	value     float64
	applied   uint64
}

// NewState returns a state with no history.
func NewState(p Params) *State {
	return &State{params: p}
}

// Apply runs one event through the transition and returns the emitted value.
func (s *State) Apply(ev contracts.MidiEvent) float64 {
	s.value = Step(s.params, s.lastAt, s.lastValue, ev.Timestamp, ev.Value)
	s.lastAt = ev.Timestamp
	s.lastValue = ev.Value
	s.applied++
	return s.value
}

// Mode returns the decoding mode.
func (s *State) Mode() contracts.ControlMode { return s.params.Mode }

// LastValue is the raw value of the latest event.
func (s *State) LastValue() int { return s.lastValue }

// Value is the latest emitted position or delta.
func (s *State) Value() float64 { return s.value }

// Applied counts events applied since creation.
func (s *State) Applied() uint64 { return s.applied }

// Config is shared by every state of a set.
type Config struct {
	Resolution float64
	Curve      Curve
}

// Set holds the states of one binding table generation. States are created on the first
// event for an address and discarded together with the set.
type Set struct {
	cfg    Config
	states map[contracts.MidiAddress]*State
}

// NewSet returns an empty set.
func NewSet(cfg Config) *Set {
	return &Set{cfg: cfg, states: make(map[contracts.MidiAddress]*State)}
}

// State returns the state for addr, creating it with mode when absent.
func (s *Set) State(addr contracts.MidiAddress, mode contracts.ControlMode) *State {
	st, ok := s.states[addr]
	if !ok {
		st = NewState(Params{
			Mode:       mode,
			Max:        addr.Type.MaxValue(),
			Resolution: s.cfg.Resolution,
			Curve:      s.cfg.Curve,
		})
		s.states[addr] = st
	}
	return st
}

// Lookup returns an existing state without creating one.
func (s *Set) Lookup(addr contracts.MidiAddress) (*State, bool) {
	st, ok := s.states[addr]
	return st, ok
}

// Len is the number of live states.
func (s *Set) Len() int { return len(s.states) }
