//go:build !windows

package downloader

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isCrossDeviceError reports whether err is EXDEV, the rename-across-
// filesystems error. errors.As unwraps the *os.LinkError os.Rename
// produces.
func isCrossDeviceError(err error) bool {
	if err == nil {
		return false
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.EXDEV
	}
	return false
}

// freeSpace returns the bytes available to unprivileged users on the
// filesystem mounted at path.
func freeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
