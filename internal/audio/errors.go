package audio

import (
	"errors"
	"fmt"
)

// Error kinds. Backends wrap OS failures in a *CaptureError carrying one of
// these so callers can classify with errors.Is.
var (
	ErrDeviceUnavailable   = errors.New("audio device unavailable")
	ErrFormatNegotiation   = errors.New("format negotiation failed")
	ErrAlreadyCapturing    = errors.New("capture already in progress")
	ErrIO                  = errors.New("audio i/o failure")
	ErrSubsystemInit       = errors.New("audio subsystem initialization failed")
	ErrUnsupportedEncoding = errors.New("unsupported sample encoding")
)

// CaptureError records the failed operation together with its kind and cause.
type CaptureError struct {
	Kind error
	Op   string
	Err  error
}

// NewError wraps err as a CaptureError of the given kind. A nil err still
// produces an error so callers can report failures without an OS cause.
func NewError(kind error, op string, err error) error {
	return &CaptureError{Kind: kind, Op: op, Err: err}
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("failed to %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
