//go:build !linux

package transport

import "syscall"

// broadcast sockets are only configured on linux
func controlSocket(network, address string, c syscall.RawConn) error {
	return nil
}
