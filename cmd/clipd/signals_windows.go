//go:build windows

package main

import "syscall"

// Windows has no user signals; session-end eviction is unavailable there.
func sessionSignal(string) syscall.Signal { return 0 }
