package ghosthand

import (
	"errors"
	"fmt"
)

var (
	// ErrHalted reports that the emergency stop fired while an action was in flight.
	// Already-injected input is left as is.
	ErrHalted = errors.New("ghosthand: halted by emergency stop")
	// ErrUnsupportedPlatform is returned by the native backend constructor on
	// platforms without an injection implementation.
	ErrUnsupportedPlatform = errors.New("ghosthand: no native input backend for this platform")
	// ErrPermissionDenied reports a missing OS privilege (accessibility trust on
	// macOS, desktop or input rights on Windows).
	ErrPermissionDenied = errors.New("ghosthand: missing input injection permission")
	// ErrWindowNotFound is wrapped by ResolutionError when no window matches.
	ErrWindowNotFound = errors.New("ghosthand: target window not found")
)

// ErrorKind classifies a failed native call.
type ErrorKind string

const (
	KindNativeCall   ErrorKind = "native_call"
	KindUnknownKey   ErrorKind = "unknown_key"
	KindPermission   ErrorKind = "permission"
	KindInvalidInput ErrorKind = "invalid_input"
	KindUnsupported  ErrorKind = "unsupported"
)

// InjectionError is returned at the native boundary when an OS call fails.
// The plan that produced it is not retried.
type InjectionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *InjectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ghosthand: %s failed (%s)", e.Op, e.Kind)
	}
	return fmt.Sprintf("ghosthand: %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

func injectionErr(kind ErrorKind, op string, err error) error {
	return &InjectionError{Kind: kind, Op: op, Err: err}
}

// ResolutionError reports that a target window or process could not be resolved.
type ResolutionError struct {
	Query WindowQuery
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("ghosthand: resolve %s: %v", e.Query, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ErrorKindOf maps an execution error to the kind recorded in results.
func ErrorKindOf(err error) string {
	var ie *InjectionError
	var re *ResolutionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrHalted):
		return "halted"
	case errors.As(err, &re):
		return "resolution"
	case errors.As(err, &ie):
		return string(ie.Kind)
	}
	return "internal"
}
