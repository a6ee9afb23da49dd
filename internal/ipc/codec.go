package ipc

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// MaxLineLength bounds one protocol line, newline excluded.
const MaxLineLength = 4096

// EncodeCommand renders cmd as "<id> <value>\n". Relative deltas carry an explicit sign
// and triggers always send 1.
func EncodeCommand(cmd contracts.Command) []byte {
	var value string
	switch {
	case cmd.Trigger:
		value = "1"
	case cmd.Relative:
		value = formatValue(cmd.Value)
		if cmd.Value >= 0 {
			value = "+" + value
		}
	default:
		value = formatValue(cmd.Value)
	}
	buf := make([]byte, 0, len(cmd.ID)+len(value)+2)
	buf = append(buf, cmd.ID...)
	buf = append(buf, ' ')
	buf = append(buf, value...)
	return append(buf, '\n')
}

// formatValue keeps six decimals and trims trailing zeros.
func formatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = trimZeros(s)
	if s == "-0" {
		return "0"
	}
	return s
}

func trimZeros(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}

// DecodeNotification parses one line, without its newline. Any line that cannot be
// parsed is a protocol desync.
func DecodeNotification(line []byte) (contracts.Notification, error) {
	line = bytes.TrimRight(line, "\r")
	if len(line) > MaxLineLength {
		return contracts.Notification{}, fmt.Errorf("%w: line of %d bytes", contracts.ErrProtocolDesync, len(line))
	}
	name, rest, found := bytes.Cut(line, []byte{' '})
	if len(name) == 0 {
		return contracts.Notification{}, fmt.Errorf("%w: empty command in %q", contracts.ErrProtocolDesync, line)
	}
	text := string(bytes.TrimSpace(rest))

	switch string(name) {
	case "TerminateApplication":
		return contracts.Notification{Kind: contracts.TerminateNotification}, nil
	case "SwitchProfile":
		if text == "" {
			return contracts.Notification{}, fmt.Errorf("%w: SwitchProfile without a name", contracts.ErrProtocolDesync)
		}
		return contracts.Notification{Kind: contracts.SwitchProfileNotification, Text: text}, nil
	case "Log":
		return contracts.Notification{Kind: contracts.LogNotification, Text: text}, nil
	case "SendKey":
		return contracts.Notification{Kind: contracts.SendKeyNotification, Text: text}, nil
	}

	if !found {
		return contracts.Notification{}, fmt.Errorf("%w: no value in %q", contracts.ErrProtocolDesync, line)
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return contracts.Notification{}, fmt.Errorf("%w: bad value in %q", contracts.ErrProtocolDesync, line)
	}
	return contracts.Notification{
		Kind:  contracts.ParameterNotification,
		ID:    contracts.CommandID(name),
		Value: value,
	}, nil
}
