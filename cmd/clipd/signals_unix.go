//go:build !windows

package main

import "syscall"

// sessionSignal maps the configured session-end signal name to a signal, or
// 0 for "none".
func sessionSignal(name string) syscall.Signal {
	switch name {
	case "hup":
		return syscall.SIGHUP
	case "usr1":
		return syscall.SIGUSR1
	case "usr2":
		return syscall.SIGUSR2
	default:
		return 0
	}
}
