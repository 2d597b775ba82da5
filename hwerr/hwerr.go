// Package hwerr holds the error kinds shared by every hardware package.
//
// Errors are created at the point of detection and carry the device name and
// the backing path. Match them with errors.Is against the kind sentinels:
//
//	if errors.Is(err, hwerr.ErrLock) { ... }
package hwerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrOpen is returned when a resource path cannot be opened
	ErrOpen = errors.New("open failed")
	// ErrLock is returned when an exclusive lock is held by someone else
	ErrLock = errors.New("lock denied")
	// ErrIO is returned for short reads/writes or use of an invalid handle
	ErrIO = errors.New("io failed")
	// ErrBus is returned when a bus device address cannot be selected
	ErrBus = errors.New("bus address selection failed")
	// ErrInvalidArgument is returned for out of range codes or values
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoHardware is returned when board discovery finds nothing
	ErrNoHardware = errors.New("no hardware found")
	// ErrNotReady is returned when an operation needs a handle or board that is absent
	ErrNotReady = errors.New("not ready")
)

// Error is the concrete error type used by the hardware packages.
type Error struct {
	Kind   error
	Device string
	Path   string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := e.Kind.Error()
	if e.Device != "" {
		s = fmt.Sprintf("%s [%s]", s, e.Device)
	}
	if e.Path != "" {
		s = fmt.Sprintf("%s (%s)", s, e.Path)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind error, device, path string, format string, args ...interface{}) error {
	return &Error{
		Kind:   kind,
		Device: device,
		Path:   path,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// Wrap creates an Error of the given kind around an underlying cause.
func Wrap(kind error, device, path string, cause error, format string, args ...interface{}) error {
	return &Error{
		Kind:   kind,
		Device: device,
		Path:   path,
		Msg:    fmt.Sprintf(format, args...),
		Err:    cause,
	}
}

// InvalidArgument is a shorthand for argument validation failures.
func InvalidArgument(device string, format string, args ...interface{}) error {
	return New(ErrInvalidArgument, device, "", format, args...)
}

// NotReady is a shorthand for operations on absent handles.
func NotReady(device string, format string, args ...interface{}) error {
	return New(ErrNotReady, device, "", format, args...)
}

// HTTPStatus maps an error to the status code the control server reports.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrLock):
		return http.StatusConflict
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrNoHardware):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
