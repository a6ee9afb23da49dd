// Package wire converts between raw MIDI frames and contracts.MidiEvent.
package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"gitlab.com/gomidi/midi/v2"
)

var (
	// ErrMalformedFrame is returned for truncated frames, missing status bytes or data bytes with the high bit set.
	ErrMalformedFrame = errors.New("malformed MIDI frame")
	// ErrUnsupportedMessage is returned for well-formed messages that carry no control address
	// (program change, aftertouch, system messages).
	ErrUnsupportedMessage = errors.New("unsupported MIDI message")
)

// FrameLength returns the expected length of a channel message for the given status byte,
// or 0 for system messages.
func FrameLength(status byte) int {
	if status >= 0xF0 {
		return 0
	}
	switch status & 0xF0 {
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		return 3
	case 0xC0, 0xD0:
		return 2
	}
	return 0
}

// Parse decodes exactly one channel message.
func Parse(raw []byte, ts time.Time) (contracts.MidiEvent, error) {
	if len(raw) == 0 {
		return contracts.MidiEvent{}, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	status := raw[0]
	if status&0x80 == 0 {
		return contracts.MidiEvent{}, fmt.Errorf("%w: missing status byte 0x%02X", ErrMalformedFrame, status)
	}
	if status >= 0xF0 {
		return contracts.MidiEvent{}, fmt.Errorf("%w: system message 0x%02X", ErrUnsupportedMessage, status)
	}
	want := FrameLength(status)
	if len(raw) != want {
		return contracts.MidiEvent{}, fmt.Errorf("%w: status 0x%02X wants %d bytes, got %d", ErrMalformedFrame, status, want, len(raw))
	}
	for _, b := range raw[1:] {
		if b&0x80 != 0 {
			return contracts.MidiEvent{}, fmt.Errorf("%w: data byte 0x%02X", ErrMalformedFrame, b)
		}
	}

	msg := midi.Message(raw)
	var ch, key, vel, ctl, val uint8
	var rel int16
	var abs uint16
	ev := contracts.MidiEvent{Timestamp: ts}

	switch {
	case msg.GetControlChange(&ch, &ctl, &val):
		ev.Address = contracts.MidiAddress{Channel: ch, Type: contracts.ControlChange, Number: ctl}
		ev.Value = int(val)
	case msg.GetNoteStart(&ch, &key, &vel):
		ev.Address = contracts.MidiAddress{Channel: ch, Type: contracts.Note, Number: key}
		ev.Value = int(vel)
	case msg.GetNoteEnd(&ch, &key):
		ev.Address = contracts.MidiAddress{Channel: ch, Type: contracts.Note, Number: key}
		ev.Value = 0
	case msg.GetPitchBend(&ch, &rel, &abs):
		ev.Address = contracts.MidiAddress{Channel: ch, Type: contracts.PitchBend}
		ev.Value = int(abs)
	default:
		return contracts.MidiEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedMessage, msg.Type())
	}
	return ev, nil
}

// Split cuts a packet holding several back-to-back messages into single frames.
// Running status is expanded. Realtime bytes are skipped wherever they appear and a
// SysEx block is dropped whole. Bytes before the first status byte form their own
// (malformed) frame so the caller can count them.
func Split(data []byte) [][]byte {
	var (
		frames  [][]byte
		running byte
	)
	for i := 0; i < len(data); {
		b := data[i]
		switch {
		case b >= 0xF8:
			i++
			continue
		case b == 0xF0:
			running = 0
			i = skipSysEx(data, i+1)
			continue
		case b > 0xF0:
			// System common: status plus whatever data follows. Parse reports it
			// as unsupported.
			running = 0
			frame := []byte{b}
			for i++; i < len(data) && (data[i]&0x80 == 0 || data[i] >= 0xF8); i++ {
				if data[i] < 0x80 {
					frame = append(frame, data[i])
				}
			}
			frames = append(frames, frame)
			continue
		case b&0x80 != 0:
			running = b
			i++
		case running == 0:
			j := i
			for j < len(data) && data[j]&0x80 == 0 {
				j++
			}
			frames = append(frames, data[i:j])
			i = j
			continue
		}

		frame := make([]byte, 1, 3)
		frame[0] = running
		for want := FrameLength(running); i < len(data) && len(frame) < want; i++ {
			if data[i] >= 0xF8 {
				continue
			}
			if data[i]&0x80 != 0 {
				break
			}
			frame = append(frame, data[i])
		}
		frames = append(frames, frame)
	}
	return frames
}

// skipSysEx returns the index just past the end of a SysEx body starting at i. The
// body ends at 0xF7 or at the next non-realtime status byte, which is not consumed.
func skipSysEx(data []byte, i int) int {
	for ; i < len(data); i++ {
		switch b := data[i]; {
		case b == 0xF7:
			return i + 1
		case b&0x80 != 0 && b < 0xF8:
			return i
		}
	}
	return i
}

// Encode produces the wire bytes for ev. Note value 0 is sent as Note Off.
func Encode(ev contracts.MidiEvent) ([]byte, error) {
	a := ev.Address
	if !a.Valid() {
		return nil, fmt.Errorf("invalid address %s", a)
	}
	if ev.Value < 0 || ev.Value > a.Type.MaxValue() {
		return nil, fmt.Errorf("value %d out of range for %s", ev.Value, a)
	}
	var msg midi.Message
	switch a.Type {
	case contracts.ControlChange:
		msg = midi.ControlChange(a.Channel, a.Number, uint8(ev.Value))
	case contracts.Note:
		if ev.Value == 0 {
			msg = midi.NoteOff(a.Channel, a.Number)
		} else {
			msg = midi.NoteOn(a.Channel, a.Number, uint8(ev.Value))
		}
	case contracts.PitchBend:
		msg = midi.Pitchbend(a.Channel, int16(ev.Value-8192))
	}
	return msg.Bytes(), nil
}
