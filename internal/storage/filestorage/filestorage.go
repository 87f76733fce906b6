// Package filestorage implements the Sink interface that writes files on disk.
package filestorage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cenkalti/drizzle/internal/logger"
	"github.com/cenkalti/drizzle/internal/storage"
)

var errInvalidName = errors.New("file name is empty or outside of destination directory")

// FileStorage writes files under a destination directory.
type FileStorage struct {
	dest string
	log  logger.Logger
}

// New returns a FileStorage that writes under dest.
func New(dest string) (*FileStorage, error) {
	var err error
	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest, log: logger.New("storage")}, nil
}

var _ storage.Sink = (*FileStorage)(nil)

// Path returns the path of the file with name under the destination directory.
func (s *FileStorage) Path(name string) (string, error) {
	// Clean turns an empty name into ".".
	name = filepath.Clean(name)
	if name == "." || filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return "", errInvalidName
	}
	return filepath.Join(s.dest, name), nil
}

// Write copies size bytes from r into a temporary file and renames it to name when complete.
// An existing file with the same name is replaced.
func (s *FileStorage) Write(name string, r io.Reader, size int64) (err error) {
	path, err := s.Path(name)
	if err != nil {
		return err
	}

	// Create containing dir if not exists.
	err = os.MkdirAll(filepath.Dir(path), os.ModeDir|0750)
	if err != nil {
		return err
	}

	const mode = 0640
	tmp := path + ".part"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, mode) // nolint: gosec
	if err != nil {
		return err
	}
	// Make sure OS file is closed and removed in case of any error.
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = preallocate(f, size); err != nil {
		s.log.Debugln("cannot preallocate file:", err)
		if err = f.Truncate(size); err != nil {
			return err
		}
	}
	n, err := io.Copy(f, io.LimitReader(r, size))
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("short write: %d of %d bytes", n, size)
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	s.log.Infof("Wrote %d bytes to %s", size, path)
	return nil
}
