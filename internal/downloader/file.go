package downloader

import (
	"fmt"
	"io"
	"os"
)

// moveFile moves a file from src to dst atomically when possible.
// os.Rename is atomic on the same filesystem; on a cross-device error
// (the part file and the download folder on different mounts) it falls
// back to copy+delete.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDeviceError(err) {
		return fmt.Errorf("moveFile %s -> %s: %w", src, dst, err)
	}
	if err := copyAndDelete(src, dst); err != nil {
		return fmt.Errorf("moveFile %s -> %s (cross-device): %w", src, dst, err)
	}
	return nil
}

// copyAndDelete copies src to dst preserving permissions, syncs, then
// removes src. A partially written dst is cleaned up on error.
func copyAndDelete(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	copySucceeded := false
	defer func() {
		dstFile.Close()
		if !copySucceeded {
			os.Remove(dst)
		}
	}()

	buf := make([]byte, defChunkSize)
	if _, err := io.CopyBuffer(dstFile, srcFile, buf); err != nil {
		return fmt.Errorf("copy content: %w", err)
	}
	if err := dstFile.Sync(); err != nil {
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	copySucceeded = true

	srcFile.Close()
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	return nil
}
