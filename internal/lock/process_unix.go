//go:build !windows

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// pidAlive reports whether the lock holder's process is still running.
// Signal 0 probes without delivering anything; EPERM still means alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
