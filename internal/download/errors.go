package download

import "errors"

var (
	// ErrNotFound is returned for unknown download ids.
	ErrNotFound = errors.New("download not found")
	// ErrAlreadyExists is returned when starting an id that is registered or
	// whose destination is held by another download.
	ErrAlreadyExists = errors.New("download already exists")
	// ErrInvalidRequest is returned when a start request is missing fields.
	ErrInvalidRequest = errors.New("invalid download request")
	// ErrPaused ends an attempt that observed a pause request.
	ErrPaused = errors.New("download paused")
	// ErrCancelled ends an attempt whose download was cancelled.
	ErrCancelled = errors.New("download cancelled")
	// ErrClosed is returned once the manager is shutting down.
	ErrClosed = errors.New("download manager closed")
	// ErrNoExecutable is returned when an installed game has no launchable file.
	ErrNoExecutable = errors.New("no executable found in game directory")
)
