package install

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArchive is returned when the input is not a readable zip archive.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrUnsafePath is returned for entries that would land outside the
	// destination directory or that are symbolic links.
	ErrUnsafePath = errors.New("unsafe archive entry")
)

// FilesystemError reports a failed create, write or chmod step.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}
