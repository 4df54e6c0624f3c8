package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meomic/meomic/audio"
	"github.com/meomic/meomic/discovery"
	"github.com/meomic/meomic/limits"
	"github.com/meomic/meomic/transport"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	// chunkSamples is 20 ms of audio, the chunk size phones send.
	chunkSamples = limits.SampleRate / 50
	chunkPeriod  = 20 * time.Millisecond

	browseTimeout = 3 * time.Second
)

var sendFlags struct {
	discover  bool
	freq      float64
	amplitude float64
	file      string
	duration  time.Duration
	keepalive time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send [host:port]",
	Short: "Stream a test tone or raw PCM file to a receiver",
	Long: `Send plays the phone side of the protocol: it streams 20 ms AUDIO packets
of 16-bit mono PCM at 48 kHz, sends periodic KEEPALIVEs and a DISCONNECT on
exit. Use it to check a receiver without a phone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr, err := sendTarget(ctx, args)
		if err != nil {
			return err
		}

		src, err := newSource()
		if err != nil {
			return err
		}
		return runSend(ctx, addr, src)
	},
}

func init() {
	f := sendCmd.Flags()
	f.BoolVar(&sendFlags.discover, "discover", false, "find the receiver over mDNS")
	f.Float64Var(&sendFlags.freq, "freq", 440, "test tone frequency in Hz")
	f.Float64Var(&sendFlags.amplitude, "amplitude", 0.3, "test tone amplitude, 0.0 to 1.0")
	f.StringVar(&sendFlags.file, "file", "", "raw 16-bit little-endian mono 48 kHz PCM file to send instead of a tone")
	f.DurationVar(&sendFlags.duration, "duration", 10*time.Second, "how long to stream (0 streams until interrupted)")
	f.DurationVar(&sendFlags.keepalive, "keepalive", time.Second, "keepalive interval")
}

// sendTarget picks the receiver address from the argument or mDNS.
func sendTarget(ctx context.Context, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if !sendFlags.discover {
		return "", errors.New("receiver address required (or use --discover)")
	}

	pterm.Info.Println("Looking for receivers...")
	servers, err := discovery.Browse(ctx, browseTimeout)
	if err != nil {
		return "", err
	}
	if len(servers) == 0 {
		return "", errors.New("no receiver found on the local network")
	}
	pterm.Info.Printfln("Found %s at %s", servers[0].Instance, servers[0].Addr)
	return servers[0].Addr.String(), nil
}

// source fills chunks of samples; ok is false once it is exhausted.
type source interface {
	Next(chunk []int16) (n int, ok bool)
}

type toneSource struct {
	tone *audio.Tone
}

func (s toneSource) Next(chunk []int16) (int, bool) {
	s.tone.Next(chunk)
	return len(chunk), true
}

type pcmSource struct {
	samples []int16
	pos     int
}

func (s *pcmSource) Next(chunk []int16) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := copy(chunk, s.samples[s.pos:])
	s.pos += n
	return n, true
}

func newSource() (source, error) {
	if sendFlags.file == "" {
		return toneSource{tone: audio.NewTone(sendFlags.freq, sendFlags.amplitude, limits.SampleRate)}, nil
	}

	data, err := os.ReadFile(sendFlags.file)
	if err != nil {
		return nil, fmt.Errorf("read pcm file: %w", err)
	}
	// A trailing odd byte is not a whole sample.
	samples, err := audio.Decode(nil, data[:len(data)&^1])
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("pcm file %s is empty", sendFlags.file)
	}
	return &pcmSource{samples: samples}, nil
}

func runSend(ctx context.Context, addr string, src source) error {
	sender, err := transport.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer sender.Close()

	if sendFlags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sendFlags.duration)
		defer cancel()
	}

	pterm.Info.Printfln("Streaming to %s", addr)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return streamAudio(gctx, sender, src)
	})
	g.Go(func() error {
		return sendKeepalives(gctx, sender, sendFlags.keepalive)
	})
	err = g.Wait()

	if derr := sender.SendDisconnect(); derr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "runSend",
			"error":    derr.Error(),
		}).Warn("Failed to send disconnect")
	}

	pterm.Success.Printfln("Sent %d packets in %s, %d ACKs received",
		sender.Sequence(), time.Since(start).Round(time.Millisecond), sender.AcksReceived())

	if errors.Is(err, errSourceDone) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// streamAudio sends one chunk every chunkPeriod until ctx is done or the
// source runs dry.
func streamAudio(ctx context.Context, sender *transport.Sender, src source) error {
	chunk := make([]int16, chunkSamples)
	var pcm []byte

	ticker := time.NewTicker(chunkPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, ok := src.Next(chunk)
		if !ok {
			return errSourceDone
		}
		pcm = audio.Encode(pcm[:0], chunk[:n])
		if err := sender.SendAudio(pcm); err != nil {
			return err
		}
	}
}

// errSourceDone ends the stream when a file source is exhausted.
var errSourceDone = errors.New("source exhausted")

func sendKeepalives(ctx context.Context, sender *transport.Sender, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sender.SendKeepalive(); err != nil {
				return err
			}
		}
	}
}
