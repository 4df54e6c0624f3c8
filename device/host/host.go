//go:build cgo

// Package host plays audio on the machine's sound devices through
// miniaudio (WASAPI, CoreAudio, ALSA, PulseAudio and others).
package host

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/meomic/meomic/device"
	"github.com/sirupsen/logrus"
)

// Available reports whether this build can open host audio devices.
const Available = true

// Backend is a device.Backend backed by a miniaudio context.
type Backend struct {
	ctx *malgo.AllocatedContext
}

// New initializes a miniaudio context with the platform's default backends.
func New() (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logrus.WithFields(logrus.Fields{
			"function": "host.New",
			"source":   "miniaudio",
		}).Debug(message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Backend{ctx: ctx}, nil
}

// Name returns "miniaudio".
func (b *Backend) Name() string {
	return "miniaudio"
}

// Devices lists playback devices. IDs are the hex form of the native ID.
func (b *Backend) Devices() ([]device.Info, error) {
	raw, err := b.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("enumerate playback devices: %w", err)
	}

	infos := make([]device.Info, 0, len(raw))
	for i := range raw {
		infos = append(infos, device.Info{
			ID:        raw[i].ID.String(),
			Name:      raw[i].Name(),
			Channels:  b.channels(raw[i]),
			IsDefault: raw[i].IsDefault != 0,
		})
	}
	return device.Classify(infos), nil
}

// channels returns the device's widest native channel count. Some backends
// leave native formats empty during enumeration, so those are queried.
func (b *Backend) channels(info malgo.DeviceInfo) int {
	if n := maxChannels(info.Formats); n > 0 {
		return n
	}
	full, err := b.ctx.DeviceInfo(malgo.Playback, info.ID, malgo.Shared)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Backend.channels",
			"device":   info.Name(),
			"error":    err.Error(),
		}).Debug("Could not query device formats")
		return 0
	}
	return maxChannels(full.Formats)
}

// maxChannels is the largest channel count among formats, 0 if none.
func maxChannels(formats []malgo.DataFormat) int {
	n := 0
	for _, f := range formats {
		n = max(n, int(f.Channels))
	}
	return n
}

// Open initializes a playback device that pulls s16 frames from pull.
func (b *Backend) Open(cfg device.StreamConfig, pull device.PullFunc) (device.Stream, error) {
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(cfg.BlockFrames)
	devCfg.Alsa.NoMMap = 1

	if cfg.DeviceID != "" {
		id, err := b.lookup(cfg.DeviceID)
		if err != nil {
			return nil, &device.OpenError{DeviceID: cfg.DeviceID, Err: err}
		}
		devCfg.Playback.DeviceID = id.Pointer()
	}

	s := &stream{channels: channels, pull: pull}
	dev, err := malgo.InitDevice(b.ctx.Context, devCfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		return nil, &device.OpenError{DeviceID: cfg.DeviceID, Err: err}
	}
	s.dev = dev

	logrus.WithFields(logrus.Fields{
		"function":     "Backend.Open",
		"device":       cfg.DeviceID,
		"sample_rate":  dev.SampleRate(),
		"channels":     channels,
		"block_frames": cfg.BlockFrames,
	}).Info("Opened playback device")

	return s, nil
}

func (b *Backend) lookup(id string) (malgo.DeviceID, error) {
	raw, err := b.ctx.Devices(malgo.Playback)
	if err != nil {
		return malgo.DeviceID{}, err
	}
	for i := range raw {
		if raw[i].ID.String() == id {
			return raw[i].ID, nil
		}
	}
	return malgo.DeviceID{}, device.ErrUnknownDevice
}

// Close releases the miniaudio context.
func (b *Backend) Close() error {
	err := b.ctx.Uninit()
	b.ctx.Free()
	return err
}

type stream struct {
	dev      *malgo.Device
	channels int
	pull     device.PullFunc

	// block is only touched from the device callback.
	block []int16

	mu     sync.Mutex
	closed bool
}

// onData fills the interleaved output with the mono block, duplicated
// across channels.
func (s *stream) onData(out, _ []byte, frames uint32) {
	n := int(frames)
	if cap(s.block) < n {
		s.block = make([]int16, n)
	}
	block := s.block[:n]
	s.pull(block)

	for i, v := range block {
		for c := 0; c < s.channels; c++ {
			off := (i*s.channels + c) * 2
			if off+2 > len(out) {
				return
			}
			binary.LittleEndian.PutUint16(out[off:], uint16(v))
		}
	}
}

func (s *stream) Start() error {
	if err := s.dev.Start(); err != nil {
		return &device.OpenError{Err: err}
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	// Uninit stops the device and waits for the callback to return.
	s.dev.Uninit()
	return nil
}
