//go:build !cgo

// Package host plays audio on the machine's sound devices. This build was
// compiled without cgo, so no host devices are available.
package host

import (
	"errors"

	"github.com/meomic/meomic/device"
)

// Available reports whether this build can open host audio devices.
const Available = false

// ErrUnavailable is returned by New when built without cgo.
var ErrUnavailable = errors.New("host audio requires a cgo build")

// Backend is a placeholder so callers compile without cgo.
type Backend struct{}

// New always fails without cgo.
func New() (*Backend, error) {
	return nil, ErrUnavailable
}

func (b *Backend) Name() string { return "miniaudio" }

func (b *Backend) Devices() ([]device.Info, error) { return nil, ErrUnavailable }

func (b *Backend) Open(cfg device.StreamConfig, _ device.PullFunc) (device.Stream, error) {
	return nil, &device.OpenError{DeviceID: cfg.DeviceID, Err: ErrUnavailable}
}

func (b *Backend) Close() error { return nil }
