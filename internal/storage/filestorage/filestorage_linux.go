package filestorage

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves disk space for the file so the write does not fail halfway because of a full disk.
func preallocate(f *os.File, size int64) error {
	if size == 0 {
		return nil
	}
	return unix.Fallocate(int(f.Fd()), 0, 0, size)
}
