package songs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a rejected file or out-of-range parameter. The
	// wrapped message carries the concrete reason and is safe to surface.
	ErrValidation = errors.New("songs: validation failed")
	// ErrCapacityExceeded marks an owner already holding the maximum number
	// of confirmed songs.
	ErrCapacityExceeded = errors.New("songs: song limit reached")
	// ErrLyricsUnavailable marks an upload refused because no synced lyrics
	// could be acquired for the track.
	ErrLyricsUnavailable = errors.New("songs: synced lyrics unavailable")
	// ErrNotFound marks an unknown song id or an owner mismatch.
	ErrNotFound = errors.New("songs: song not found")
)

// ServiceError wraps infrastructure failures with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code for the failure.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
