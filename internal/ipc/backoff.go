package ipc

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// Default reconnect delays.
const (
	DefaultBackoffMin        = 250 * time.Millisecond
	DefaultBackoffMax        = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffResetAfter = 30 * time.Second
)

// Backoff produces a non-decreasing delay sequence capped at Max. It is an
// exponential backoff without jitter or an elapsed-time limit, plus the rule that a
// sustained session starts the sequence over.
type Backoff struct {
	resetAfter time.Duration
	exp        *backoff.ExponentialBackOff
}

// NewBackoff fills unset fields of cfg with the defaults.
func NewBackoff(cfg contracts.BackoffConfig) *Backoff {
	if cfg.Min <= 0 {
		cfg.Min = DefaultBackoffMin
	}
	if cfg.Max < cfg.Min {
		cfg.Max = DefaultBackoffMax
		if cfg.Max < cfg.Min {
			cfg.Max = cfg.Min
		}
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultBackoffMultiplier
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = DefaultBackoffResetAfter
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.Min
	exp.MaxInterval = cfg.Max
	exp.Multiplier = cfg.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &Backoff{resetAfter: cfg.ResetAfter, exp: exp}
}

// Next returns the delay to wait now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	return b.exp.NextBackOff()
}

// Reset returns the sequence to Min.
func (b *Backoff) Reset() {
	b.exp.Reset()
}

// Connected resets the sequence when a session lasted at least ResetAfter.
func (b *Backoff) Connected(lasted time.Duration) {
	if lasted >= b.resetAfter {
		b.Reset()
	}
}
