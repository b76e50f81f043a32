// Package wasm is the guest side of the host imports, for Go programs built
// with GOOS=wasip1 GOARCH=wasm.
package wasm

import "errors"

var (
	// ErrLoadFailed is returned when the host could not fetch a file.
	ErrLoadFailed = errors.New("host failed to load file")

	// ErrBufferTooSmall is returned when a file does not fit the buffer.
	ErrBufferTooSmall = errors.New("file does not fit in buffer")
)
