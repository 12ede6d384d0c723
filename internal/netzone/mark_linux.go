//go:build linux

package netzone

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// markControl 返回给套接字设置 SO_MARK 的 Control 函数，mark 为 0 时不设置。
func markControl(mark int) func(network, address string, c syscall.RawConn) error {
	if mark == 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, mark)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
