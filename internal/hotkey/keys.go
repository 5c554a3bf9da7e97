package hotkey

// Key tables for each platform's native registration call. They only see
// keys that passed normalizeKey.

// x11Keysym returns the name XStringToKeysym understands.
func x11Keysym(key string) string {
	switch key {
	case "Space":
		return "space"
	case "Enter":
		return "Return"
	case "Tab", "Escape":
		return key
	}
	if len(key) == 1 && key[0] >= 'A' && key[0] <= 'Z' {
		return string(key[0] + 'a' - 'A')
	}
	return key // digits and F-keys share their names
}

// X11 modifier masks.
const (
	x11ShiftMask   = 1 << 0
	x11LockMask    = 1 << 1
	x11ControlMask = 1 << 2
	x11Mod1Mask    = 1 << 3 // Alt
	x11Mod2Mask    = 1 << 4 // NumLock
	x11Mod4Mask    = 1 << 6 // Super
)

func x11Modifiers(a Accelerator) int {
	var m int
	if a.Shift {
		m |= x11ShiftMask
	}
	if a.Ctrl {
		m |= x11ControlMask
	}
	if a.Alt {
		m |= x11Mod1Mask
	}
	if a.Super {
		m |= x11Mod4Mask
	}
	return m
}

// x11LockVariants are grabbed alongside the plain combination so the key
// still fires with CapsLock or NumLock on.
var x11LockVariants = []int{0, x11LockMask, x11Mod2Mask, x11LockMask | x11Mod2Mask}

// Carbon virtual key codes (kVK_ANSI_*), which follow the physical layout.
var carbonKeyCodes = map[string]uint32{
	"A": 0x00, "S": 0x01, "D": 0x02, "F": 0x03, "H": 0x04, "G": 0x05, "Z": 0x06, "X": 0x07,
	"C": 0x08, "V": 0x09, "B": 0x0B, "Q": 0x0C, "W": 0x0D, "E": 0x0E, "R": 0x0F, "Y": 0x10,
	"T": 0x11, "1": 0x12, "2": 0x13, "3": 0x14, "4": 0x15, "6": 0x16, "5": 0x17, "9": 0x19,
	"7": 0x1A, "8": 0x1C, "0": 0x1D, "O": 0x1F, "U": 0x20, "I": 0x22, "P": 0x23, "L": 0x25,
	"J": 0x26, "K": 0x28, "N": 0x2D, "M": 0x2E,
	"Enter": 0x24, "Tab": 0x30, "Space": 0x31, "Escape": 0x35,
	"F1": 0x7A, "F2": 0x78, "F3": 0x63, "F4": 0x76, "F5": 0x60, "F6": 0x61,
	"F7": 0x62, "F8": 0x64, "F9": 0x65, "F10": 0x6D, "F11": 0x67, "F12": 0x6F,
}

// Carbon modifier flags.
const (
	carbonCmdKey     = 0x0100
	carbonShiftKey   = 0x0200
	carbonOptionKey  = 0x0800
	carbonControlKey = 0x1000
)

func carbonModifiers(a Accelerator) uint32 {
	var m uint32
	if a.Super {
		m |= carbonCmdKey
	}
	if a.Shift {
		m |= carbonShiftKey
	}
	if a.Alt {
		m |= carbonOptionKey
	}
	if a.Ctrl {
		m |= carbonControlKey
	}
	return m
}

// windowsVK returns the virtual-key code for RegisterHotKey.
func windowsVK(key string) uint32 {
	switch key {
	case "Space":
		return 0x20
	case "Enter":
		return 0x0D
	case "Tab":
		return 0x09
	case "Escape":
		return 0x1B
	}
	if len(key) == 1 {
		return uint32(key[0]) // 'A'-'Z' and '0'-'9' match their ASCII codes
	}
	if n, ok := functionKey(key); ok {
		return 0x70 + uint32(n-1)
	}
	return 0
}

// RegisterHotKey modifier flags.
const (
	winModAlt      = 0x0001
	winModControl  = 0x0002
	winModShift    = 0x0004
	winModWin      = 0x0008
	winModNoRepeat = 0x4000
)

func windowsModifiers(a Accelerator) uint32 {
	m := uint32(winModNoRepeat)
	if a.Alt {
		m |= winModAlt
	}
	if a.Ctrl {
		m |= winModControl
	}
	if a.Shift {
		m |= winModShift
	}
	if a.Super {
		m |= winModWin
	}
	return m
}
