//go:build windows

package diskspace

import (
	"golang.org/x/sys/windows"
)

// availableBytes uses GetDiskFreeSpaceEx, which honours per-user quotas.
func availableBytes(dir string) (int64, bool) {
	pathPtr, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, false
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, false
	}
	return int64(freeBytesAvailable), true
}
