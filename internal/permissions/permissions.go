// Package permissions checks the OS privacy grants input capture needs.
// Loopback capture of speakers needs none.
package permissions

import (
	"errors"
	"fmt"
)

// ErrMicrophoneDenied is returned when input capture is not authorized.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")

// Status mirrors AVAuthorizationStatus.
type Status int

const (
	NotDetermined Status = iota
	Restricted
	Denied
	Authorized
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// EnsureMicrophone checks the microphone grant before an input device is
// opened, asking the user when nothing was decided yet.
func EnsureMicrophone() error {
	switch status := Microphone(); status {
	case Authorized:
		return nil
	case NotDetermined:
		RequestMicrophone()
		return fmt.Errorf("%w: requested, try again after allowing access", ErrMicrophoneDenied)
	default:
		return fmt.Errorf("%w: %s, enable it under System Settings > Privacy & Security > Microphone",
			ErrMicrophoneDenied, status)
	}
}
