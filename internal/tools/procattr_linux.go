package tools

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// The child gets its own process group; Pdeathsig delivers SIGTERM to it if
// tfdoom dies without running shutdown.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGTERM,
	}
}
