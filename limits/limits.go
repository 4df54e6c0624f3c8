package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// HeaderSize is the fixed packet header: magic (2) + version (1) + type (1) + sequence (4).
	HeaderSize = 8

	// MaxDatagram is the receive buffer size used by the socket loop.
	MaxDatagram = 65536

	// MaxAudioPayload is the largest PCM payload that fits one datagram.
	MaxAudioPayload = MaxDatagram - HeaderSize

	// SampleRate is the fixed stream rate in Hz.
	SampleRate = 48000

	// BytesPerSample is the width of one signed 16-bit mono sample.
	BytesPerSample = 2

	// DefaultBlockFrames is the pull size requested from the output device (~21.3 ms).
	DefaultBlockFrames = 1024

	// MaxBufferedSamples is the jitter buffer ceiling (150 ms).
	MaxBufferedSamples = 7200
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds the maximum size
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrPayloadMisaligned indicates a payload is not a whole number of samples
	ErrPayloadMisaligned = errors.New("payload not sample aligned")
)

// ValidatePayloadSize validates a payload against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidatePayloadSize(payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateAudioPayload checks that an AUDIO payload fits a datagram and holds
// whole 16-bit samples.
func ValidateAudioPayload(payload []byte) error {
	if err := ValidatePayloadSize(payload, MaxAudioPayload); err != nil {
		return err
	}
	if len(payload)%BytesPerSample != 0 {
		return fmt.Errorf("%w: %d bytes", ErrPayloadMisaligned, len(payload))
	}
	return nil
}

// SamplesFor returns the number of samples covering d at SampleRate.
func SamplesFor(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}

// DurationOf returns the playback duration of n samples at SampleRate.
func DurationOf(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
