package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDevice indicates a device ID the backend does not know.
var ErrUnknownDevice = errors.New("unknown output device")

// Info describes one output device.
type Info struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Channels  int    `json:"channels,omitempty"`
	IsDefault bool   `json:"is_default"`
	IsVirtual bool   `json:"is_virtual"`
}

// StreamConfig describes the stream a renderer asks for.
type StreamConfig struct {
	// DeviceID selects the device; empty means the backend default.
	DeviceID    string
	SampleRate  int
	Channels    int
	BlockFrames int
}

// PullFunc fills out completely with the next samples to play. It is
// called from the stream's clock and must not block.
type PullFunc func(out []int16)

// Stream is an open output stream.
type Stream interface {
	// Start begins pulling.
	Start() error
	// Close stops pulling and releases the device. No PullFunc call is in
	// flight once Close returns.
	Close() error
}

// Backend is a source of output devices.
type Backend interface {
	// Name returns the backend name (e.g., "miniaudio", "clock").
	Name() string
	// Devices lists output devices.
	Devices() ([]Info, error)
	// Open prepares a stream; it does not start pulling until Start.
	Open(cfg StreamConfig, pull PullFunc) (Stream, error)
}

// OpenError reports that an output device could not be opened or started.
type OpenError struct {
	DeviceID string
	Err      error
}

func (e *OpenError) Error() string {
	id := e.DeviceID
	if id == "" {
		id = "default"
	}
	return fmt.Sprintf("open output device %s: %v", id, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// virtualKeywords match the names of common virtual audio cables.
var virtualKeywords = []string{"cable", "virtual", "vb-audio", "blackhole", "soundflower", "loopback"}

// IsVirtualName reports whether a device name looks like a virtual audio device.
func IsVirtualName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range virtualKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Classify marks devices whose names look virtual. Devices a backend has
// already flagged stay flagged.
func Classify(infos []Info) []Info {
	for i := range infos {
		if IsVirtualName(infos[i].Name) {
			infos[i].IsVirtual = true
		}
	}
	return infos
}

// FindVirtual returns the first virtual device.
func FindVirtual(infos []Info) (Info, bool) {
	for _, info := range infos {
		if info.IsVirtual {
			return info, true
		}
	}
	return Info{}, false
}

// Lookup finds a device by ID, falling back to a case-insensitive name match
// so configuration files can name devices the way the OS shows them.
func Lookup(infos []Info, idOrName string) (Info, bool) {
	for _, info := range infos {
		if info.ID == idOrName {
			return info, true
		}
	}
	for _, info := range infos {
		if strings.EqualFold(info.Name, idOrName) {
			return info, true
		}
	}
	return Info{}, false
}
