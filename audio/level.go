package audio

import (
	"math"
	"sync/atomic"
)

// LevelReference is the RMS value that maps to a full-scale (1.0) meter.
const LevelReference = 10000.0

// RMS returns the root mean square of samples, or 0 for an empty slice.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level maps the RMS of samples to [0, 1] against LevelReference.
func Level(samples []int16) float64 {
	return math.Min(1.0, RMS(samples)/LevelReference)
}

// LevelMeter holds the most recent level for lock-free reads.
// It reflects the last chunk only; there is no smoothing.
type LevelMeter struct {
	bits atomic.Uint64
}

// Update stores the level of samples and returns it.
func (m *LevelMeter) Update(samples []int16) float64 {
	level := Level(samples)
	m.Store(level)
	return level
}

// Store sets the level directly.
func (m *LevelMeter) Store(level float64) {
	m.bits.Store(math.Float64bits(level))
}

// Reset zeroes the level.
func (m *LevelMeter) Reset() {
	m.bits.Store(0)
}

// Load returns the last stored level.
func (m *LevelMeter) Load() float64 {
	return math.Float64frombits(m.bits.Load())
}
