//go:build windows

package redolog

import (
	"syscall"
	"unsafe"
)

// availableMB reports free disk space at dir in megabytes via
// GetDiskFreeSpaceExW.
func availableMB(dir string) (int64, error) {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	proc := kernel32.NewProc("GetDiskFreeSpaceExW")

	path, err := syscall.UTF16PtrFromString(dir)
	if err != nil {
		return 0, err
	}

	var freeBytesAvailable uint64
	ret, _, callErr := proc.Call(
		uintptr(unsafe.Pointer(path)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		0,
		0,
	)
	if ret == 0 {
		return 0, callErr
	}
	return int64(freeBytesAvailable / (1 << 20)), nil
}
