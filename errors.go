package cowfs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is the error type returned by every public operation on
// Engine. It carries a stable identity (so callers can compare against the
// sentinel values below with errors.Is) while still allowing a human-
// readable message and an underlying cause to be attached.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseCowfsError string

const rootError = baseCowfsError("")

// Sentinel errors, one per failure mode the engine can report.
var ErrNameTooLong = rootError.WithMessage("file name too long")
var ErrAlreadyExists = rootError.WithMessage("file already exists")
var ErrNotFound = rootError.WithMessage("no such file")
var ErrNoInodes = rootError.WithMessage("inode table is full")
var ErrNoDescriptors = rootError.WithMessage("descriptor table is full")
var ErrBadFileDescriptor = rootError.WithMessage("bad file descriptor")
var ErrWrongMode = rootError.WithMessage("file descriptor opened in wrong mode")
var ErrOutOfSpace = rootError.WithMessage("no space left in block pool")
var ErrVersionNotFound = rootError.WithMessage("version not found")
var ErrIOFailed = rootError.WithMessage("input/output error")

func (e baseCowfsError) Error() string {
	return string(e)
}

func (e baseCowfsError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseCowfsError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}
