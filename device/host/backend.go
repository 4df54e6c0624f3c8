package host

import "github.com/meomic/meomic/device"

var _ device.Backend = (*Backend)(nil)
