// Package device abstracts the host audio output subsystem the playback
// renderer is pulled by.
//
// A Backend enumerates output devices and opens pull-mode streams. The
// stream owns the clock: it calls the PullFunc at a fixed block size from
// its own goroutine or realtime thread, and the callee must fill the whole
// block without blocking.
//
// Backends:
//   - host (package device/host): the OS audio subsystem through miniaudio.
//   - clock: a pure-Go ticker-driven stream that writes PCM to a null sink
//     or to a FIFO (for example a PulseAudio module-pipe-source, which shows
//     up to other applications as a microphone).
package device
