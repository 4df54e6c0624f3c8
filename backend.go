package meomic

import (
	"github.com/meomic/meomic/config"
	"github.com/meomic/meomic/device"
	"github.com/meomic/meomic/device/host"
	"github.com/sirupsen/logrus"
)

// NewBackend opens the output backend named in cfg. When the host backend
// cannot start (no cgo, no audio server) it falls back to the clock backend
// so the receiver still runs.
func NewBackend(cfg *config.Config) device.Backend {
	if cfg.Backend == config.BackendHost {
		b, err := host.New()
		if err == nil {
			return b
		}
		logrus.WithFields(logrus.Fields{
			"function": "NewBackend",
			"error":    err.Error(),
		}).Warn("Host audio unavailable, falling back to clock backend")
	}
	return device.NewClockBackend(cfg.PipePath)
}
