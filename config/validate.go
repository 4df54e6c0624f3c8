package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/meomic/meomic/audio"
	"github.com/meomic/meomic/limits"
	"github.com/sirupsen/logrus"
)

const (
	minBlockFrames = 64
	maxBlockFrames = 8192
)

// Validate checks the config and returns every problem found, joined.
// An out-of-range volume is clamped with a warning rather than rejected.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 0-65535", c.Port))
	}

	if c.BindAddress != "" && net.ParseIP(c.BindAddress) == nil {
		errs = append(errs, fmt.Errorf("bind_address %q is not an IP address", c.BindAddress))
	}

	switch c.Backend {
	case BackendHost, BackendClock:
	default:
		errs = append(errs, fmt.Errorf("backend %q is not valid (use %s or %s)", c.Backend, BackendHost, BackendClock))
	}

	if clamped := audio.ClampGain(c.Volume); clamped != c.Volume {
		logrus.WithFields(logrus.Fields{
			"function":  "Config.Validate",
			"requested": c.Volume,
			"clamped":   clamped,
		}).Warn("volume out of range, clamping")
		c.Volume = clamped
	}

	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			errs = append(errs, fmt.Errorf("status_addr %q: %w", c.StatusAddr, err))
		}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	r := c.Receiver
	if r.ReceiveTimeout <= 0 {
		errs = append(errs, fmt.Errorf("receiver.receive_timeout must be positive, got %s", r.ReceiveTimeout))
	}
	if r.ConnectionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("receiver.connection_timeout must be positive, got %s", r.ConnectionTimeout))
	}
	if r.AckInterval <= 0 {
		errs = append(errs, fmt.Errorf("receiver.ack_interval must be positive, got %s", r.AckInterval))
	}
	if r.LossThreshold == 0 {
		errs = append(errs, errors.New("receiver.loss_threshold must be positive"))
	}
	if r.SocketBuffer < 0 {
		errs = append(errs, fmt.Errorf("receiver.socket_buffer %d is negative", r.SocketBuffer))
	}

	p := c.Playback
	if p.BlockFrames < minBlockFrames || p.BlockFrames > maxBlockFrames {
		errs = append(errs, fmt.Errorf("playback.block_frames %d out of range %d-%d", p.BlockFrames, minBlockFrames, maxBlockFrames))
	}
	if limits.SamplesFor(p.MaxBuffer) < p.BlockFrames {
		errs = append(errs, fmt.Errorf("playback.max_buffer %s is shorter than one block", p.MaxBuffer))
	}

	return errors.Join(errs...)
}
