// Package limits provides centralized size constants and validation functions
// for the MeoMic wire protocol and the playback buffer.
//
// # Size Hierarchy
//
//   - HeaderSize (8 bytes): fixed packet header, present on every packet.
//
//   - MaxDatagram (65536 bytes): receive buffer size. Anything a UDP socket
//     can hand us fits.
//
//   - MaxAudioPayload (MaxDatagram - HeaderSize): largest PCM payload an AUDIO
//     packet can carry.
//
//   - MaxBufferedSamples (7200 samples): the jitter buffer ceiling, 150 ms of
//     mono audio at 48 kHz.
//
// # Validation Functions
//
//	err := limits.ValidateAudioPayload(payload)
//	if err != nil {
//	    // ErrPayloadEmpty, ErrPayloadTooLarge or ErrPayloadMisaligned
//	}
package limits
