package assets

import (
	"errors"
	"fmt"
)

// ErrURLPath marks absolute URLs handed to a source that only serves
// local paths. Chains treat it as a miss so a later HTTP source can
// answer.
var ErrURLPath = errors.New("URLs are not supported by directory sources")

// StatusError occurs when an HTTP source answers with anything but 200.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d loading %s", e.StatusCode, e.URL)
}

// TooLargeError occurs when a resource exceeds the source's size limit.
type TooLargeError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	if e.Size < 0 {
		return fmt.Sprintf("resource '%s' exceeds limit of %d bytes", e.Path, e.Limit)
	}
	return fmt.Sprintf("resource '%s' too large: %d > %d", e.Path, e.Size, e.Limit)
}

// NotFoundError occurs when no source in a chain has the resource.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resource '%s' not found", e.Path)
	}
	return fmt.Sprintf("resource '%s' not found: %v", e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// InvalidPathError occurs when a path cannot be resolved by a source.
type InvalidPathError struct {
	Path   string
	Reason string
	Err    error
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path '%s': %s", e.Path, e.Reason)
}

func (e *InvalidPathError) Unwrap() error {
	return e.Err
}
