//go:build !windows

package daemon

import "syscall"

// alive sends signal 0, which only checks that the process exists.
func alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
