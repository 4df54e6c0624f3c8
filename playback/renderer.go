package playback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meomic/meomic/audio"
	"github.com/meomic/meomic/device"
	"github.com/meomic/meomic/limits"
	"github.com/sirupsen/logrus"
)

// ErrOddPayload is returned by Write for a payload that is not a whole
// number of 16-bit samples.
var ErrOddPayload = errors.New("odd pcm payload length")

// RendererConfig configures a Renderer.
type RendererConfig struct {
	// DeviceID selects the output device; empty means the backend default.
	DeviceID string
	// BlockFrames is the pull block size. Default limits.DefaultBlockFrames.
	BlockFrames int
	// MaxBuffered is the jitter buffer ceiling. Default 150ms.
	MaxBuffered time.Duration
	// Volume is the initial gain, clamped to [0, 2]. Zero mutes.
	Volume float64
}

// DefaultRendererConfig returns the default renderer configuration.
func DefaultRendererConfig() RendererConfig {
	return RendererConfig{
		BlockFrames: limits.DefaultBlockFrames,
		MaxBuffered: limits.DurationOf(limits.MaxBufferedSamples),
		Volume:      audio.UnityGain,
	}
}

// RendererStats is a point-in-time snapshot of the renderer.
type RendererStats struct {
	Running        bool    `json:"running"`
	Device         string  `json:"device"`
	Volume         float64 `json:"volume"`
	Level          float64 `json:"level"`
	Buffered       int     `json:"buffered_samples"`
	BufferedMillis float64 `json:"buffered_ms"`
	Underruns      uint64  `json:"underruns"`
	DroppedSamples uint64  `json:"dropped_samples"`
}

// Renderer buffers received PCM and feeds it to an output device stream.
//
// Write is called from the network receive goroutine and Pull from the
// device clock. Both take the buffer lock only around ring copies; gain and
// level are computed before the lock is taken so the pull path never waits
// on sample processing.
type Renderer struct {
	backend device.Backend
	cfg     RendererConfig

	// lifecycle guards stream and deviceID.
	lifecycle sync.Mutex
	stream    device.Stream
	deviceID  string
	running   atomic.Bool

	mu     sync.Mutex
	buffer *JitterBuffer

	// writeMu serializes Write so scratch can be reused.
	writeMu sync.Mutex
	scratch []int16

	gain  *audio.GainEffect
	level audio.LevelMeter

	underruns atomic.Uint64
	dropped   atomic.Uint64
}

// NewRenderer creates a stopped renderer that will open streams on backend.
func NewRenderer(backend device.Backend, cfg RendererConfig) *Renderer {
	defaults := DefaultRendererConfig()
	if cfg.BlockFrames <= 0 {
		cfg.BlockFrames = defaults.BlockFrames
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = defaults.MaxBuffered
	}

	capacity := max(limits.SamplesFor(cfg.MaxBuffered), cfg.BlockFrames)

	logrus.WithFields(logrus.Fields{
		"function":     "NewRenderer",
		"backend":      backend.Name(),
		"device":       cfg.DeviceID,
		"block_frames": cfg.BlockFrames,
		"capacity":     capacity,
	}).Debug("Creating renderer")

	return &Renderer{
		backend:  backend,
		cfg:      cfg,
		deviceID: cfg.DeviceID,
		buffer:   NewJitterBuffer(capacity),
		gain:     audio.NewGainEffect(cfg.Volume),
	}
}

// Start opens and starts the output stream. It clears the buffer first.
// Starting a running renderer is a no-op. On failure the renderer stays
// stopped and the error is a *device.OpenError.
func (r *Renderer) Start() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.startLocked()
}

func (r *Renderer) startLocked() error {
	if r.running.Load() {
		return nil
	}

	r.mu.Lock()
	r.buffer.Clear()
	r.mu.Unlock()

	stream, err := r.backend.Open(device.StreamConfig{
		DeviceID:    r.deviceID,
		SampleRate:  limits.SampleRate,
		Channels:    1,
		BlockFrames: r.cfg.BlockFrames,
	}, r.Pull)
	if err != nil {
		return r.openFailed(asOpenError(r.deviceID, err))
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return r.openFailed(asOpenError(r.deviceID, err))
	}

	r.stream = stream
	r.running.Store(true)

	logrus.WithFields(logrus.Fields{
		"function": "Renderer.Start",
		"backend":  r.backend.Name(),
		"device":   r.deviceID,
	}).Info("Audio output started")

	return nil
}

func (r *Renderer) openFailed(err *device.OpenError) error {
	logrus.WithFields(logrus.Fields{
		"function": "Renderer.Start",
		"device":   err.DeviceID,
		"error":    err.Err.Error(),
	}).Error("Failed to start audio output")
	return err
}

func asOpenError(id string, err error) *device.OpenError {
	var openErr *device.OpenError
	if errors.As(err, &openErr) {
		if openErr.DeviceID == "" {
			openErr.DeviceID = id
		}
		return openErr
	}
	return &device.OpenError{DeviceID: id, Err: err}
}

// Stop closes the output stream, clears the buffer and zeroes the level.
// Stopping a stopped renderer is a no-op.
func (r *Renderer) Stop() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.stopLocked()
}

func (r *Renderer) stopLocked() error {
	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)

	err := r.stream.Close()
	r.stream = nil

	r.mu.Lock()
	r.buffer.Clear()
	r.level.Reset()
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Renderer.Stop",
		"device":   r.deviceID,
	}).Info("Audio output stopped")

	if err != nil {
		return fmt.Errorf("close output stream: %w", err)
	}
	return nil
}

// Write scales pcm (16-bit little-endian mono) by the volume, updates the
// level and appends it to the jitter buffer, trimming the oldest samples
// past the ceiling. It is a no-op when the renderer is stopped or pcm is
// empty. Bad input is logged and dropped; it never reaches the stream.
func (r *Renderer) Write(pcm []byte) (err error) {
	if !r.running.Load() || len(pcm) == 0 {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("playback write panic: %v", p)
			logrus.WithFields(logrus.Fields{
				"function": "Renderer.Write",
				"bytes":    len(pcm),
				"panic":    p,
			}).Error("Recovered from panic while processing audio")
		}
	}()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	samples, decodeErr := audio.Decode(r.scratch, pcm)
	r.scratch = samples
	if decodeErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Renderer.Write",
			"bytes":    len(pcm),
		}).Warn("Dropping audio chunk with odd byte count")
		return fmt.Errorf("%w: %d bytes", ErrOddPayload, len(pcm))
	}

	r.gain.Process(samples)
	level := audio.Level(samples)

	r.mu.Lock()
	// Stop may have run since the check above; it clears under this lock.
	if !r.running.Load() {
		r.mu.Unlock()
		return nil
	}
	dropped := r.buffer.Write(samples)
	r.level.Store(level)
	r.mu.Unlock()

	if dropped > 0 {
		r.dropped.Add(uint64(dropped))
		logrus.WithFields(logrus.Fields{
			"function": "Renderer.Write",
			"dropped":  dropped,
		}).Debug("Jitter buffer over ceiling, trimmed oldest samples")
	}
	return nil
}

// Pull fills out from the jitter buffer. It is the device callback and
// never blocks on anything but the buffer lock.
//
// A short buffer is drained and the remainder padded with its last sample.
// An empty buffer yields silence and resets the level.
func (r *Renderer) Pull(out []int16) {
	r.mu.Lock()
	n := r.buffer.Read(out)
	r.mu.Unlock()

	switch {
	case n == len(out):
	case n == 0:
		clear(out)
		r.level.Reset()
		r.underruns.Add(1)
	default:
		last := out[n-1]
		for i := n; i < len(out); i++ {
			out[i] = last
		}
		r.underruns.Add(1)
	}
}

// SetVolume sets the gain, clamped to [0, 2]. It applies from the next Write.
func (r *Renderer) SetVolume(v float64) {
	r.gain.SetGain(v)
}

// Volume returns the current gain.
func (r *Renderer) Volume() float64 {
	return r.gain.Gain()
}

// Level returns the level of the most recently written chunk in [0, 1].
func (r *Renderer) Level() float64 {
	return r.level.Load()
}

// Running reports whether the output stream is open.
func (r *Renderer) Running() bool {
	return r.running.Load()
}

// Buffered returns the number of samples waiting in the jitter buffer.
func (r *Renderer) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffer.Len()
}

// SetOutputDevice selects the device for the next stream. A running
// renderer is restarted on the new device; if that fails it stays stopped.
func (r *Renderer) SetOutputDevice(id string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if id == r.deviceID {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Renderer.SetOutputDevice",
		"from":     r.deviceID,
		"to":       id,
	}).Info("Switching output device")

	wasRunning := r.running.Load()
	if wasRunning {
		if err := r.stopLocked(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Renderer.SetOutputDevice",
				"error":    err.Error(),
			}).Warn("Error closing previous output stream")
		}
	}

	r.deviceID = id
	if wasRunning {
		return r.startLocked()
	}
	return nil
}

// OutputDevice returns the selected device ID; empty means the backend default.
func (r *Renderer) OutputDevice() string {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.deviceID
}

// ListOutputDevices lists the backend's output devices.
func (r *Renderer) ListOutputDevices() ([]device.Info, error) {
	return r.backend.Devices()
}

// FindVirtualDevice returns the first virtual output device, if any.
func (r *Renderer) FindVirtualDevice() (device.Info, bool) {
	infos, err := r.backend.Devices()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Renderer.FindVirtualDevice",
			"error":    err.Error(),
		}).Warn("Could not enumerate output devices")
		return device.Info{}, false
	}
	return device.FindVirtual(infos)
}

// Stats returns a snapshot of the renderer state.
func (r *Renderer) Stats() RendererStats {
	buffered := r.Buffered()
	return RendererStats{
		Running:        r.Running(),
		Device:         r.OutputDevice(),
		Volume:         r.Volume(),
		Level:          r.Level(),
		Buffered:       buffered,
		BufferedMillis: float64(limits.DurationOf(buffered)) / float64(time.Millisecond),
		Underruns:      r.underruns.Load(),
		DroppedSamples: r.dropped.Load(),
	}
}
