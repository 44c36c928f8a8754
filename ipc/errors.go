package ipc

import "fmt"

// Kind classifies a fatal error per spec: configuration, resource,
// peer failure, or application fault. The event loop uses Kind only
// for logging; every fatal error terminates the PD the same way.
type Kind int

const (
	// KindConfiguration covers duplicate names, oversized channel ids,
	// binding to a non-existent symbol, and a missing payload.
	KindConfiguration Kind = iota
	// KindResource covers a failed host allocation (memory, pipe,
	// notification endpoint).
	KindResource
	// KindPeer covers a write to a pipe or endpoint whose peer has
	// died.
	KindPeer
	// KindApplication covers a payload entry point faulting.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResource:
		return "resource"
	case KindPeer:
		return "peer"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// FatalError is an error that must terminate the PD that raised it.
// It is never recovered from by the runtime; the event loop logs it
// and exits the process with a non-zero status.
type FatalError struct {
	Kind Kind
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal (%s): %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a FatalError of the given kind.
func Fatal(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &FatalError{Kind: kind, Err: err}
}

// Fatalf is a convenience wrapper combining fmt.Errorf and Fatal.
func Fatalf(kind Kind, format string, args ...any) error {
	return &FatalError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
