//go:build !unix

package store

import (
	"errors"
	"fmt"
	"os"
)

// fileLock emulates an exclusive lock by creating <path>.lock with
// O_EXCL. A lock file left by a crashed process has to be removed by hand.
type fileLock struct {
	path string
	file *os.File
}

func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("store: open lock file: %w", err)
	}
	return &fileLock{path: path, file: f}, nil
}

func (l *fileLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if rmErr := os.Remove(l.path); err == nil {
		err = rmErr
	}
	return err
}
