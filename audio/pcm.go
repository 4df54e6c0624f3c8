package audio

import (
	"encoding/binary"
	"errors"
)

// ErrOddLength indicates a PCM byte slice that is not a whole number of samples.
var ErrOddLength = errors.New("pcm byte length is odd")

// Decode converts little-endian 16-bit PCM bytes to samples, appending to
// dst[:0] and returning the result.
func Decode(dst []int16, pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return dst[:0], ErrOddLength
	}

	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return dst, nil
}

// Encode converts samples to little-endian 16-bit PCM bytes, appending to dst.
func Encode(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
