// Package audio provides the sample-level processing used on the playback
// path: PCM byte conversion, volume gain with clipping, and the RMS level
// meter that drives the UI.
//
// The processing pipeline for one received chunk:
//
//	PCM bytes → Decode → GainEffect (volume) → Level (RMS) → jitter buffer
//
// All samples are signed 16-bit mono at 48 kHz. Nothing here allocates on
// the hot path when callers reuse their slices.
package audio
