package logger

import (
	"bytes"
	"io"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

type lineWriter struct {
	log contracts.Logger
	msg string
}

// NewWriter adapts a Logger to io.Writer; every line becomes one INFO entry under msg.
func NewWriter(l contracts.Logger, msg string) io.Writer {
	return &lineWriter{log: l, msg: msg}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		w.log.Info(w.msg, w.log.Field().String("line", string(line)))
	}
	return len(p), nil
}
