package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meomic/meomic/audio"
	"github.com/meomic/meomic/device"
	"github.com/meomic/meomic/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records opens and hands back streams the test drives by hand.
type fakeBackend struct {
	mu      sync.Mutex
	devices []device.Info
	openErr error
	opened  []device.StreamConfig
	streams []*fakeStream
}

type fakeStream struct {
	pull    device.PullFunc
	started bool
	closed  bool
}

func (s *fakeStream) Start() error { s.started = true; return nil }
func (s *fakeStream) Close() error { s.closed = true; return nil }

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Devices() ([]device.Info, error) {
	return device.Classify(append([]device.Info(nil), b.devices...)), nil
}

func (b *fakeBackend) Open(cfg device.StreamConfig, pull device.PullFunc) (device.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened = append(b.opened, cfg)
	s := &fakeStream{pull: pull}
	b.streams = append(b.streams, s)
	return s, nil
}

func newTestRenderer(t *testing.T, blockFrames int) (*Renderer, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	cfg := DefaultRendererConfig()
	cfg.BlockFrames = blockFrames
	r := NewRenderer(backend, cfg)
	require.NoError(t, r.Start())
	return r, backend
}

func pcm(samples ...int16) []byte {
	return audio.Encode(nil, samples)
}

func TestRendererStartOpensMonoStream(t *testing.T) {
	r, backend := newTestRenderer(t, 256)

	require.Len(t, backend.opened, 1)
	assert.Equal(t, device.StreamConfig{SampleRate: 48000, Channels: 1, BlockFrames: 256}, backend.opened[0])
	assert.True(t, backend.streams[0].started)
	assert.True(t, r.Running())

	require.NoError(t, r.Start())
	assert.Len(t, backend.opened, 1, "second Start is a no-op")
}

func TestRendererFullBlockLeavesRemainder(t *testing.T) {
	const frames = 4
	r, _ := newTestRenderer(t, frames)

	require.NoError(t, r.Write(pcm(1, 2, 3, 4, 5, 6, 7, 8)))

	out := make([]int16, frames)
	r.Pull(out)
	assert.Equal(t, []int16{1, 2, 3, 4}, out)
	assert.Equal(t, 4, r.Buffered())

	r.Pull(out)
	assert.Equal(t, []int16{5, 6, 7, 8}, out)
}

func TestRendererPartialBlockRepeatsLastSample(t *testing.T) {
	r, _ := newTestRenderer(t, 6)

	require.NoError(t, r.Write(pcm(100, 200, 300)))
	levelBefore := r.Level()

	out := make([]int16, 6)
	r.Pull(out)

	assert.Equal(t, []int16{100, 200, 300, 300, 300, 300}, out)
	assert.Equal(t, 0, r.Buffered())
	assert.Equal(t, levelBefore, r.Level(), "partial pull leaves level alone")
}

func TestRendererUnderrunIsSilent(t *testing.T) {
	r, _ := newTestRenderer(t, 4)

	require.NoError(t, r.Write(pcm(5000, -5000)))
	require.Greater(t, r.Level(), 0.0)
	r.Pull(make([]int16, 4))

	out := []int16{9, 9, 9, 9}
	r.Pull(out)

	assert.Equal(t, []int16{0, 0, 0, 0}, out)
	assert.Equal(t, 0.0, r.Level())
	assert.Equal(t, uint64(2), r.Stats().Underruns)
}

func TestRendererCeilingKeepsNewestSamples(t *testing.T) {
	r, _ := newTestRenderer(t, limits.DefaultBlockFrames)

	chunk := make([]int16, 960)
	next := 0
	for i := 0; i < 20; i++ {
		for j := range chunk {
			chunk[j] = int16(next % 30000)
			next++
		}
		require.NoError(t, r.Write(audio.Encode(nil, chunk)))
		assert.LessOrEqual(t, r.Buffered(), limits.MaxBufferedSamples)
	}

	require.Equal(t, limits.MaxBufferedSamples, r.Buffered())
	out := make([]int16, limits.MaxBufferedSamples)
	r.Pull(out)
	assert.Equal(t, int16((next-1)%30000), out[len(out)-1])
	assert.Equal(t, int16((next-limits.MaxBufferedSamples)%30000), out[0])
	assert.Equal(t, uint64(next-limits.MaxBufferedSamples), r.Stats().DroppedSamples)
}

func TestRendererVolume(t *testing.T) {
	tests := []struct {
		name   string
		volume float64
		in     []int16
		want   []int16
	}{
		{"mute", 0, []int16{32767, -32768, 100}, []int16{0, 0, 0}},
		{"unity", 1, []int16{32767, -32768, 100}, []int16{32767, -32768, 100}},
		{"half", 0.5, []int16{1000, -1000, 3}, []int16{500, -500, 1}},
		{"double clips", 2, []int16{20000, -20000, 100}, []int16{32767, -32768, 200}},
		{"above range clamps to double", 5, []int16{20000}, []int16{32767}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRenderer(t, len(tt.in))
			r.SetVolume(tt.volume)

			require.NoError(t, r.Write(pcm(tt.in...)))
			out := make([]int16, len(tt.in))
			r.Pull(out)

			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRendererLevelMonotonicInVolume(t *testing.T) {
	r, _ := newTestRenderer(t, 64)
	chunk := audio.NewTone(440, 0.3, 48000).Next(make([]int16, 960))

	prev := -1.0
	for _, v := range []float64{0, 0.25, 0.5, 1, 1.5, 2} {
		r.SetVolume(v)
		require.NoError(t, r.Write(audio.Encode(nil, chunk)))
		level := r.Level()
		assert.GreaterOrEqual(t, level, prev, "volume %v", v)
		assert.LessOrEqual(t, level, 1.0)
		prev = level
	}
	r.SetVolume(0)
	require.NoError(t, r.Write(audio.Encode(nil, chunk)))
	assert.Equal(t, 0.0, r.Level())
}

func TestRendererWriteNoOps(t *testing.T) {
	backend := &fakeBackend{}
	r := NewRenderer(backend, DefaultRendererConfig())

	require.NoError(t, r.Write(pcm(1, 2, 3)), "stopped renderer ignores writes")
	assert.Equal(t, 0, r.Buffered())

	require.NoError(t, r.Start())
	require.NoError(t, r.Write(nil))
	assert.Equal(t, 0, r.Buffered())

	err := r.Write([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrOddPayload)
	assert.Equal(t, 0, r.Buffered())
	assert.Equal(t, 0.0, r.Level())
}

func TestRendererStopClearsState(t *testing.T) {
	r, backend := newTestRenderer(t, 4)
	require.NoError(t, r.Write(pcm(9000, 9000, 9000)))
	require.Greater(t, r.Level(), 0.0)

	require.NoError(t, r.Stop())

	assert.False(t, r.Running())
	assert.True(t, backend.streams[0].closed)
	assert.Equal(t, 0, r.Buffered())
	assert.Equal(t, 0.0, r.Level())
	require.NoError(t, r.Stop())
}

func TestRendererStartClearsBuffer(t *testing.T) {
	r, _ := newTestRenderer(t, 4)
	require.NoError(t, r.Write(pcm(1, 2)))

	// Leave samples behind, as a write racing Stop would.
	r.running.Store(false)
	r.stream = nil
	require.NoError(t, r.Start())

	assert.Equal(t, 0, r.Buffered())
}

func TestRendererStartFailureStaysStopped(t *testing.T) {
	backend := &fakeBackend{openErr: errors.New("device busy")}
	cfg := DefaultRendererConfig()
	cfg.DeviceID = "42"
	r := NewRenderer(backend, cfg)

	err := r.Start()

	var openErr *device.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "42", openErr.DeviceID)
	assert.False(t, r.Running())
	assert.NoError(t, r.Write(pcm(1, 2)))
	assert.Equal(t, 0, r.Buffered())
}

func TestRendererSetOutputDeviceRestarts(t *testing.T) {
	r, backend := newTestRenderer(t, 4)
	require.NoError(t, r.Write(pcm(1, 2, 3)))

	require.NoError(t, r.SetOutputDevice("cable"))

	require.Len(t, backend.opened, 2)
	assert.Equal(t, "cable", backend.opened[1].DeviceID)
	assert.True(t, backend.streams[0].closed)
	assert.True(t, backend.streams[1].started)
	assert.True(t, r.Running())
	assert.Equal(t, "cable", r.OutputDevice())
	assert.Equal(t, 0, r.Buffered())

	require.NoError(t, r.SetOutputDevice("cable"))
	assert.Len(t, backend.opened, 2, "same device does not restart")
}

func TestRendererSetOutputDeviceWhileStopped(t *testing.T) {
	backend := &fakeBackend{}
	r := NewRenderer(backend, DefaultRendererConfig())

	require.NoError(t, r.SetOutputDevice("7"))

	assert.Empty(t, backend.opened)
	assert.Equal(t, "7", r.OutputDevice())
	require.NoError(t, r.Start())
	assert.Equal(t, "7", backend.opened[0].DeviceID)
}

func TestRendererDeviceQueries(t *testing.T) {
	backend := &fakeBackend{devices: []device.Info{
		{ID: "1", Name: "Speakers", IsDefault: true},
		{ID: "2", Name: "CABLE Input (VB-Audio Virtual Cable)"},
	}}
	r := NewRenderer(backend, DefaultRendererConfig())

	infos, err := r.ListOutputDevices()
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	v, ok := r.FindVirtualDevice()
	require.True(t, ok)
	assert.Equal(t, "2", v.ID)
}

func TestRendererStreamPullsThroughRenderer(t *testing.T) {
	r, backend := newTestRenderer(t, 2)
	require.NoError(t, r.Write(pcm(7, 8)))

	out := make([]int16, 2)
	backend.streams[0].pull(out)
	assert.Equal(t, []int16{7, 8}, out)
}

func TestRendererConcurrentWriteAndPull(t *testing.T) {
	r, _ := newTestRenderer(t, 256)
	chunk := audio.Encode(nil, audio.NewTone(440, 0.5, 48000).Next(make([]int16, 960)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = r.Write(chunk)
		}
	}()
	go func() {
		defer wg.Done()
		out := make([]int16, 256)
		for i := 0; i < 2000; i++ {
			r.Pull(out)
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, r.Buffered(), limits.MaxBufferedSamples)
}

func TestRendererStats(t *testing.T) {
	r, _ := newTestRenderer(t, 4)
	r.SetVolume(1.5)
	require.NoError(t, r.Write(audio.Encode(nil, make([]int16, 480))))

	stats := r.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, 1.5, stats.Volume)
	assert.Equal(t, 480, stats.Buffered)
	assert.InDelta(t, 10.0, stats.BufferedMillis, 0.001)
}

func TestDefaultRendererConfig(t *testing.T) {
	cfg := DefaultRendererConfig()
	assert.Equal(t, 1024, cfg.BlockFrames)
	assert.Equal(t, 150*time.Millisecond, cfg.MaxBuffered)
	assert.Equal(t, 1.0, cfg.Volume)
}

func TestNewRendererZeroVolumeMutes(t *testing.T) {
	backend := &fakeBackend{}
	cfg := DefaultRendererConfig()
	cfg.BlockFrames = 3
	cfg.Volume = 0
	r := NewRenderer(backend, cfg)
	require.NoError(t, r.Start())

	assert.Equal(t, 0.0, r.Volume())

	require.NoError(t, r.Write(pcm(32767, -32768, 100)))
	out := make([]int16, 3)
	r.Pull(out)
	assert.Equal(t, []int16{0, 0, 0}, out)
	assert.Equal(t, 0.0, r.Level())
}

func TestRendererStopRacingWriteLeavesNothingBehind(t *testing.T) {
	chunk := audio.Encode(nil, audio.NewTone(440, 0.5, 48000).Next(make([]int16, 960)))

	for i := 0; i < 50; i++ {
		r, _ := newTestRenderer(t, 256)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 200; j++ {
				_ = r.Write(chunk)
			}
		}()

		require.NoError(t, r.Stop())
		<-done

		require.False(t, r.Running())
		require.Equal(t, 0, r.Buffered(), "iteration %d", i)
		require.Equal(t, 0.0, r.Level(), "iteration %d", i)
	}
}
