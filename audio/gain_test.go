package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyGain(t *testing.T) {
	tests := []struct {
		name        string
		gain        float64
		input       []int16
		expected    []int16
		wantClipped int
	}{
		{
			name:     "silence gain",
			gain:     0.0,
			input:    []int16{1000, -1000, 32767, -32768},
			expected: []int16{0, 0, 0, 0},
		},
		{
			name:     "unity gain",
			gain:     1.0,
			input:    []int16{1000, -1000, 32767, -32768},
			expected: []int16{1000, -1000, 32767, -32768},
		},
		{
			name:     "half gain",
			gain:     0.5,
			input:    []int16{1000, -1000, 3},
			expected: []int16{500, -500, 1},
		},
		{
			name:        "double gain clips above half scale",
			gain:        2.0,
			input:       []int16{1000, 20000, -20000, 16383, -16384},
			expected:    []int16{2000, 32767, -32768, 32766, -32768},
			wantClipped: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := append([]int16(nil), tt.input...)
			clipped := ApplyGain(samples, tt.gain)
			assert.Equal(t, tt.expected, samples)
			assert.Equal(t, tt.wantClipped, clipped)
		})
	}
}

func TestClampGain(t *testing.T) {
	assert.Equal(t, 0.0, ClampGain(-1))
	assert.Equal(t, 2.0, ClampGain(3.5))
	assert.Equal(t, 1.25, ClampGain(1.25))
	assert.Equal(t, 1.0, ClampGain(math.NaN()))
}

func TestGainEffectSetGain(t *testing.T) {
	g := NewGainEffect(5)
	assert.Equal(t, MaxGain, g.Gain())

	g.SetGain(0.5)
	samples := []int16{400}
	g.Process(samples)
	assert.Equal(t, int16(200), samples[0])
	assert.Equal(t, "Gain(0.50)", g.Name())
}
