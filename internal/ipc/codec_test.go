package ipc

import (
	"errors"
	"strings"
	"testing"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

func TestEncodeCommand(t *testing.T) {
	testcases := []struct {
		cmd  contracts.Command
		want string
	}{
		{contracts.Command{ID: "develop.exposure", Value: 100.0 / 127}, "develop.exposure 0.787402\n"},
		{contracts.Command{ID: "Exposure", Value: 0.5}, "Exposure 0.5\n"},
		{contracts.Command{ID: "Exposure", Value: 1}, "Exposure 1\n"},
		{contracts.Command{ID: "Exposure", Value: 0}, "Exposure 0\n"},
		{contracts.Command{ID: "Temperature", Value: 2.0 / 127, Relative: true}, "Temperature +0.015748\n"},
		{contracts.Command{ID: "Temperature", Value: -2.0 / 127, Relative: true}, "Temperature -0.015748\n"},
		{contracts.Command{ID: "Pick", Value: 0.3, Trigger: true}, "Pick 1\n"},
	}
	for _, tc := range testcases {
		if got := string(EncodeCommand(tc.cmd)); got != tc.want {
			t.Errorf("EncodeCommand(%+v) = %q, want %q", tc.cmd, got, tc.want)
		}
	}
}

func TestDecodeNotification(t *testing.T) {
	testcases := []struct {
		line string
		want contracts.Notification
	}{
		{"develop.exposure 0.5", contracts.Notification{Kind: contracts.ParameterNotification, ID: "develop.exposure", Value: 0.5}},
		{"Exposure 1\r", contracts.Notification{Kind: contracts.ParameterNotification, ID: "Exposure", Value: 1}},
		{"SwitchProfile Develop", contracts.Notification{Kind: contracts.SwitchProfileNotification, Text: "Develop"}},
		{"Log hello world", contracts.Notification{Kind: contracts.LogNotification, Text: "hello world"}},
		{"SendKey 32Ctrl+Z", contracts.Notification{Kind: contracts.SendKeyNotification, Text: "32Ctrl+Z"}},
		{"TerminateApplication", contracts.Notification{Kind: contracts.TerminateNotification}},
		{"TerminateApplication 1", contracts.Notification{Kind: contracts.TerminateNotification}},
	}
	for _, tc := range testcases {
		got, err := DecodeNotification([]byte(tc.line))
		if err != nil {
			t.Errorf("%q: %v", tc.line, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %+v, want %+v", tc.line, got, tc.want)
		}
	}
}

func TestDecodeNotificationDesync(t *testing.T) {
	for _, line := range []string{
		"Exposure",
		"Exposure abc",
		"Exposure NaN",
		" 0.5",
		"SwitchProfile",
		strings.Repeat("x", MaxLineLength) + " 1",
	} {
		if _, err := DecodeNotification([]byte(line)); !errors.Is(err, contracts.ErrProtocolDesync) {
			t.Errorf("%.40q: got %v", line, err)
		}
	}
}
