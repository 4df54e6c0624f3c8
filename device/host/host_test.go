//go:build cgo

package host

import (
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
)

func TestMaxChannels(t *testing.T) {
	tests := []struct {
		name    string
		formats []malgo.DataFormat
		want    int
	}{
		{"no formats", nil, 0},
		{"mono", []malgo.DataFormat{{Format: malgo.FormatS16, Channels: 1, SampleRate: 48000}}, 1},
		{"widest wins", []malgo.DataFormat{
			{Format: malgo.FormatS16, Channels: 2, SampleRate: 48000},
			{Format: malgo.FormatF32, Channels: 8, SampleRate: 48000},
			{Format: malgo.FormatS16, Channels: 1, SampleRate: 44100},
		}, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maxChannels(tt.formats))
		})
	}
}
