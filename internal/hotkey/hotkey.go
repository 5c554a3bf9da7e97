package hotkey

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned by New on platforms without a global hotkey
// implementation.
var ErrUnsupported = errors.New("global hotkeys are not supported on this platform")

// Manager defines the interface for global hotkey management
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}

// Accelerator is a parsed key combination such as "Ctrl+Shift+R".
type Accelerator struct {
	Ctrl  bool
	Shift bool
	Alt   bool
	Super bool // Cmd on macOS, Win on Windows
	Key   string
}

// Parse reads an accelerator. Modifier names are case-insensitive and may
// come in any order; exactly one non-modifier key is required.
func Parse(accel string) (Accelerator, error) {
	var a Accelerator
	if strings.TrimSpace(accel) == "" {
		return a, errors.New("empty accelerator")
	}

	for _, part := range strings.Split(accel, "+") {
		name := strings.TrimSpace(part)
		switch strings.ToLower(name) {
		case "ctrl", "control":
			a.Ctrl = true
		case "shift":
			a.Shift = true
		case "alt", "option", "opt":
			a.Alt = true
		case "cmd", "command", "super", "win", "meta":
			a.Super = true
		case "":
			return Accelerator{}, fmt.Errorf("invalid accelerator %q: empty key name", accel)
		default:
			if a.Key != "" {
				return Accelerator{}, fmt.Errorf("invalid accelerator %q: more than one key", accel)
			}
			key, ok := normalizeKey(name)
			if !ok {
				return Accelerator{}, fmt.Errorf("invalid accelerator %q: unknown key %q", accel, name)
			}
			a.Key = key
		}
	}
	if a.Key == "" {
		return Accelerator{}, fmt.Errorf("invalid accelerator %q: no key", accel)
	}
	return a, nil
}

// String renders the canonical form, modifiers first.
func (a Accelerator) String() string {
	var parts []string
	if a.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if a.Alt {
		parts = append(parts, "Alt")
	}
	if a.Shift {
		parts = append(parts, "Shift")
	}
	if a.Super {
		parts = append(parts, "Super")
	}
	return strings.Join(append(parts, a.Key), "+")
}

var namedKeys = map[string]string{
	"space":  "Space",
	"enter":  "Enter",
	"return": "Enter",
	"tab":    "Tab",
	"esc":    "Escape",
	"escape": "Escape",
}

// normalizeKey maps a key name to its canonical spelling: upper-case
// letters and digits, F1 to F12, and the named keys above.
func normalizeKey(name string) (string, bool) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, true
	}
	upper := strings.ToUpper(name)
	if len(upper) == 1 && (upper[0] >= 'A' && upper[0] <= 'Z' || upper[0] >= '0' && upper[0] <= '9') {
		return upper, true
	}
	if n, ok := functionKey(upper); ok {
		return fmt.Sprintf("F%d", n), true
	}
	return "", false
}

func functionKey(key string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(key, "F%d", &n); err != nil || key != fmt.Sprintf("F%d", n) {
		return 0, false
	}
	return n, n >= 1 && n <= 12
}
