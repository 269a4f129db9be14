//go:build windows

package downloader

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isCrossDeviceError reports whether err is ERROR_NOT_SAME_DEVICE, the
// rename-across-volumes error.
func isCrossDeviceError(err error) bool {
	if err == nil {
		return false
	}
	var errno windows.Errno
	if errors.As(err, &errno) {
		return errno == windows.ERROR_NOT_SAME_DEVICE
	}
	return false
}

// freeSpace returns the bytes available to the calling user on the
// volume holding path.
func freeSpace(path string) (int64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &free); err != nil {
		return 0, err
	}
	return int64(avail), nil
}
