package control

import (
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// Decode returns the signed step count carried by a relative encoder value.
// Absolute mode returns 0.
func Decode(mode contracts.ControlMode, value int) int {
	value &= 0x7F
	switch mode {
	case contracts.RelativeTwosComplement:
		if value < 64 {
			return value
		}
		return value - 128
	case contracts.RelativeBinaryOffset:
		return value - 64
	case contracts.RelativeSignedBit:
		magnitude := value & 0x3F
		if value&0x40 != 0 {
			return -magnitude
		}
		return magnitude
	}
	return 0
}

// Curve derives the acceleration factor from the interval between two events of one control.
type Curve struct {
	Window    time.Duration
	MaxFactor float64
}

// Factor is 1 for the first event or for intervals of at least Window, rising linearly to
// MaxFactor as the interval shrinks to zero.
func (c Curve) Factor(prev, cur time.Time) float64 {
	if prev.IsZero() || c.Window <= 0 || c.MaxFactor <= 1 {
		return 1
	}
	dt := cur.Sub(prev)
	if dt < 0 {
		dt = 0
	}
	if dt >= c.Window {
		return 1
	}
	frac := 1 - float64(dt)/float64(c.Window)
	return 1 + (c.MaxFactor-1)*frac
}

// Params fixes the behaviour of one control.
type Params struct {
	Mode       contracts.ControlMode
	Max        int     // full-scale raw value, 127 or 16383
	Resolution float64 // relative steps per full parameter range
	Curve      Curve
}

// Step is the transition function of a control: it maps the previous and current
// (timestamp, raw value) pair to the emitted application value. Absolute modes return a
// position in [0,1]; relative modes return a delta in [-1,1].
func Step(p Params, prevAt time.Time, prevValue int, at time.Time, value int) float64 {
	if !p.Mode.Relative() {
		full := p.Max
		if full <= 0 {
			full = 127
		}
		return clamp(float64(value)/float64(full), 0, 1)
	}
	res := p.Resolution
	if res <= 0 {
		res = 127
	}
	steps := Decode(p.Mode, value)
	return clamp(float64(steps)*p.Curve.Factor(prevAt, at)/res, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
