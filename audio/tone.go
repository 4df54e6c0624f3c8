package audio

import "math"

// Tone generates a continuous sine wave, chunk by chunk, for test senders.
type Tone struct {
	frequency  float64
	amplitude  float64
	sampleRate float64
	phase      float64
}

// NewTone creates a sine generator. amplitude is a fraction of full scale
// and is clamped to [0, 1].
func NewTone(frequency, amplitude float64, sampleRate int) *Tone {
	return &Tone{
		frequency:  frequency,
		amplitude:  math.Max(0, math.Min(1, amplitude)),
		sampleRate: float64(sampleRate),
	}
}

// Next fills samples with the next stretch of the wave, keeping phase
// continuous across calls.
func (t *Tone) Next(samples []int16) []int16 {
	step := 2 * math.Pi * t.frequency / t.sampleRate
	for i := range samples {
		samples[i] = int16(t.amplitude * math.MaxInt16 * math.Sin(t.phase))
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return samples
}
