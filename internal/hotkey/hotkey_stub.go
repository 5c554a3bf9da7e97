//go:build !linux && !darwin && !windows

package hotkey

// New reports ErrUnsupported; the tray still works without a hotkey.
func New() (Manager, error) {
	return nil, ErrUnsupported
}
