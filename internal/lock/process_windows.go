//go:build windows

package lock

import (
	"errors"

	"golang.org/x/sys/windows"
)

// pidAlive reports whether the lock holder's process is still running
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		// 權限不足代表行程存在
		return errors.Is(err, windows.ERROR_ACCESS_DENIED)
	}
	windows.CloseHandle(handle)
	return true
}
