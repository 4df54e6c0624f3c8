//go:build !unix && !windows

package transport

import "syscall"

func setReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
