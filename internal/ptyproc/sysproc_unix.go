//go:build unix

package ptyproc

import "syscall"

// sysProcAttr starts the child in its own session so Kill can signal the
// whole process group, reaping grandchildren a hosted agent spawned.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
