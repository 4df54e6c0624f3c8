package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/meomic/meomic/audio"
	"github.com/sirupsen/logrus"
)

const (
	// NullDeviceID discards every block.
	NullDeviceID = "null"
	// PipeDeviceID writes raw PCM to the configured pipe path.
	PipeDeviceID = "pipe"
)

// ClockBackend drives streams from a Go ticker instead of a sound card.
// It is used headless, on machines without cgo, and in tests.
type ClockBackend struct {
	pipePath string
}

// NewClockBackend creates a clock backend. A non-empty pipePath adds a
// "pipe" device that writes 16-bit little-endian PCM to that path; a FIFO
// is opened read-write so opening never waits for a reader.
func NewClockBackend(pipePath string) *ClockBackend {
	return &ClockBackend{pipePath: pipePath}
}

// Name returns "clock".
func (b *ClockBackend) Name() string {
	return "clock"
}

// Devices lists the null device and, when configured, the pipe device.
func (b *ClockBackend) Devices() ([]Info, error) {
	infos := []Info{{
		ID:        NullDeviceID,
		Name:      "Null output",
		Channels:  1,
		IsDefault: b.pipePath == "",
	}}
	if b.pipePath != "" {
		infos = append(infos, Info{
			ID:        PipeDeviceID,
			Name:      "Virtual pipe " + b.pipePath,
			Channels:  1,
			IsDefault: true,
			IsVirtual: true,
		})
	}
	return infos, nil
}

// Open prepares a ticker-driven stream on the requested device.
func (b *ClockBackend) Open(cfg StreamConfig, pull PullFunc) (Stream, error) {
	if cfg.SampleRate <= 0 || cfg.BlockFrames <= 0 {
		return nil, &OpenError{DeviceID: cfg.DeviceID, Err: fmt.Errorf("invalid stream config %+v", cfg)}
	}
	if pull == nil {
		return nil, &OpenError{DeviceID: cfg.DeviceID, Err: errors.New("nil pull func")}
	}

	id := cfg.DeviceID
	if id == "" {
		id = NullDeviceID
		if b.pipePath != "" {
			id = PipeDeviceID
		}
	}

	var w io.WriteCloser
	switch {
	case id == NullDeviceID:
		w = nopWriteCloser{io.Discard}
	case id == PipeDeviceID && b.pipePath != "":
		f, err := openPipe(b.pipePath)
		if err != nil {
			return nil, &OpenError{DeviceID: id, Err: err}
		}
		w = f
	default:
		return nil, &OpenError{DeviceID: id, Err: ErrUnknownDevice}
	}

	period := time.Duration(cfg.BlockFrames) * time.Second / time.Duration(cfg.SampleRate)

	logrus.WithFields(logrus.Fields{
		"function":     "ClockBackend.Open",
		"device":       id,
		"block_frames": cfg.BlockFrames,
		"period":       period.String(),
	}).Debug("Opened clock stream")

	return &clockStream{
		out:    w,
		pull:   pull,
		period: period,
		block:  make([]int16, cfg.BlockFrames),
		pcm:    make([]byte, 0, cfg.BlockFrames*2),
	}, nil
}

// openPipe opens path for writing. FIFOs are opened read-write so the call
// does not block until a reader attaches.
func openPipe(path string) (*os.File, error) {
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeNamedPipe != 0 {
		return os.OpenFile(path, os.O_RDWR, 0)
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// clockStream calls pull once per period and writes the block out.
type clockStream struct {
	out    io.WriteCloser
	pull   PullFunc
	period time.Duration
	block  []int16
	pcm    []byte

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func (s *clockStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	return nil
}

func (s *clockStream) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.pull(s.block)
			s.pcm = audio.Encode(s.pcm[:0], s.block)
			if _, err := s.out.Write(s.pcm); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "clockStream.run",
					"error":    err.Error(),
				}).Warn("Output write failed")
			}
		}
	}
}

func (s *clockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		close(s.stop)
		<-s.done
		s.started = false
	}
	return s.out.Close()
}
