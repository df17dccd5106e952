package audio

import (
	"math"
	"time"
)

// GateHold is how long a noise gate stays open after the last activity.
const GateHold = 500 * time.Millisecond

// Threshold floor range in dB.
const (
	thresholdMinDB   = -90.0
	thresholdRangeDB = 65.0
)

// Gain maps a 0..1 control value onto a linear gain in 0..maxGain.
func Gain(percent, maxGain float64) float64 {
	return clamp01(percent) * maxGain
}

// ThresholdDB maps a 0..1 threshold onto a dB floor: 0 is -90 dB, 1 is -25 dB.
func ThresholdDB(percent float64) float64 {
	return thresholdMinDB + clamp01(percent)*thresholdRangeDB
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Gate decides on every poll whether a stream's audio passes.
type Gate interface {
	Update(active bool, now time.Time) bool
}

// NoiseGate opens on activity and closes once no activity has been seen for
// the hold period.
type NoiseGate struct {
	hold time.Duration
	open bool
	last time.Time
}

func NewNoiseGate(hold time.Duration) *NoiseGate {
	return &NoiseGate{hold: hold}
}

func (g *NoiseGate) Update(active bool, now time.Time) bool {
	if active {
		g.open = true
		g.last = now
		return true
	}
	if g.open && now.Sub(g.last) >= g.hold {
		g.open = false
	}
	return g.open
}

// OpenGate never closes.
type OpenGate struct{}

func (OpenGate) Update(bool, time.Time) bool { return true }
