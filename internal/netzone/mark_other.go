//go:build !linux

package netzone

import "syscall"

// markControl 在非 Linux 平台上不设置防火墙标记。
func markControl(mark int) func(network, address string, c syscall.RawConn) error {
	return nil
}
