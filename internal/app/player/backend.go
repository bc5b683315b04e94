package player

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Backend is the single-file audio output capability the coordinator
// drives. Implementations must report IsBusy true immediately after a
// successful PlayFile and false once the file has finished; the
// coordinator infers track completion by polling rather than callbacks
// so heterogeneous backends stay interchangeable.
type Backend interface {
	PlayFile(path string) error
	Pause() error
	Resume() error
	Stop() error
	Seek(pos time.Duration) error
	SetVolume(percent int) error
	IsBusy() bool
	Position() time.Duration
	Duration() time.Duration
	Cleanup() error
}

// ErrorCode classifies backend failures for clients.
type ErrorCode string

const (
	CodeDeviceBusy  ErrorCode = "device_busy"
	CodeFileMissing ErrorCode = "file_missing"
	CodeDecodeError ErrorCode = "decode_error"
	CodeUnknown     ErrorCode = "unknown"
)

// BackendError is a typed audio backend failure.
type BackendError struct {
	Code ErrorCode
	Err  error
}

// NewBackendError wraps err with a taxonomy code.
func NewBackendError(code ErrorCode, err error) *BackendError {
	return &BackendError{Code: code, Err: err}
}

// BackendErrorf creates a backend error from a format string.
func BackendErrorf(code ErrorCode, format string, args ...any) *BackendError {
	return &BackendError{Code: code, Err: errors.Newf(format, args...)}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("audio backend: %s: %v", e.Code, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the taxonomy code from an error chain, defaulting to
// CodeUnknown for untyped failures.
func CodeOf(err error) ErrorCode {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeUnknown
}
