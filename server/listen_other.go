//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

// File: server/listen_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "syscall"

// socketControl leaves socket options at their defaults; reuse_port is
// ignored on this platform.
func socketControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
