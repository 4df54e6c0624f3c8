package audio

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const (
	// MinGain silences the signal.
	MinGain = 0.0
	// UnityGain leaves samples untouched.
	UnityGain = 1.0
	// MaxGain is +6 dB.
	MaxGain = 2.0
)

// GainEffect implements linear volume control with clipping.
//
// The gain is stored atomically so SetGain may be called from any goroutine
// while Process runs on the receive path. Values outside [MinGain, MaxGain]
// are clamped rather than rejected.
type GainEffect struct {
	gain atomic.Uint64 // math.Float64bits
}

// NewGainEffect creates a gain effect with the given (clamped) gain.
func NewGainEffect(gain float64) *GainEffect {
	g := &GainEffect{}
	g.SetGain(gain)
	return g
}

// ClampGain limits gain to [MinGain, MaxGain]. NaN maps to unity.
func ClampGain(gain float64) float64 {
	switch {
	case math.IsNaN(gain):
		return UnityGain
	case gain < MinGain:
		return MinGain
	case gain > MaxGain:
		return MaxGain
	default:
		return gain
	}
}

// SetGain updates the gain; the next Process call uses it.
func (g *GainEffect) SetGain(gain float64) {
	clamped := ClampGain(gain)
	if clamped != gain {
		logrus.WithFields(logrus.Fields{
			"function":  "GainEffect.SetGain",
			"requested": gain,
			"clamped":   clamped,
		}).Debug("Gain clamped to range")
	}
	g.gain.Store(math.Float64bits(clamped))
}

// Gain returns the current gain.
func (g *GainEffect) Gain() float64 {
	return math.Float64frombits(g.gain.Load())
}

// Name returns the effect name for logging.
func (g *GainEffect) Name() string {
	return fmt.Sprintf("Gain(%.2f)", g.Gain())
}

// Process scales samples in place and returns how many were clipped.
// Unity gain is a no-op.
func (g *GainEffect) Process(samples []int16) int {
	return ApplyGain(samples, g.Gain())
}

// ApplyGain multiplies samples by gain in place, saturating at the int16
// range instead of wrapping. It returns the number of clipped samples.
func ApplyGain(samples []int16, gain float64) int {
	if gain == UnityGain {
		return 0
	}

	clipped := 0
	for i, sample := range samples {
		v := float64(sample) * gain
		switch {
		case v > math.MaxInt16:
			samples[i] = math.MaxInt16
			clipped++
		case v < math.MinInt16:
			samples[i] = math.MinInt16
			clipped++
		default:
			samples[i] = int16(v)
		}
	}
	return clipped
}
