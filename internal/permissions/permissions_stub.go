//go:build !darwin

package permissions

// Microphone always reports Authorized outside macOS.
func Microphone() Status {
	return Authorized
}

func RequestMicrophone() {}
