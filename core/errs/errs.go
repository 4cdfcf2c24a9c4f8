package errs

import (
	"errors"
	"fmt"
)

// Code is a stable error category callers can switch on
type Code string

const (
	CodeUnknown           Code = "unknown"
	CodeNotFound          Code = "not_found"
	CodeInvalidInput      Code = "invalid_input"
	CodeLaunchFailure     Code = "launch_failure"
	CodeTransportFailure  Code = "transport_failure"
	CodeRemoteProcessDied Code = "remote_process_died"
)

// ErrNotFound matches any NotFound-coded error under errors.Is
var ErrNotFound = errors.New("not found")

// Error carries a Code plus the underlying error
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Is lets errors.Is(err, ErrNotFound) succeed for NotFound-coded errors
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeNotFound
}

// New wraps err with code. A nil err yields nil.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// Newf builds a coded error from a format string
func Newf(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// NotFound reports a missing record of the given kind
func NotFound(kind, id string) error {
	return Newf(CodeNotFound, "%s %s not found", kind, id)
}

// CodeOf returns the code of the outermost coded error in err's chain
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries code anywhere in its chain
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var e *Error
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		err = e.err
		if err == nil {
			return false
		}
	}
	return false
}
