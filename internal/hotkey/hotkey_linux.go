//go:build linux

package hotkey

/*
#cgo pkg-config: x11
#include <X11/Xlib.h>
#include <X11/keysym.h>
#include <stdlib.h>

Display* displayPtr = NULL;

int openDisplay() {
    if (displayPtr == NULL) {
        displayPtr = XOpenDisplay(NULL);
    }
    return displayPtr != NULL;
}

int keycodeFor(const char* name) {
    KeySym sym = XStringToKeysym(name);
    if (sym == NoSymbol) return 0;
    return XKeysymToKeycode(displayPtr, sym);
}

void grabKey(int keycode, int modifiers) {
    Window root = DefaultRootWindow(displayPtr);
    XGrabKey(displayPtr, keycode, modifiers, root, False, GrabModeAsync, GrabModeAsync);
    XSelectInput(displayPtr, root, KeyPressMask | KeyReleaseMask);
    XSync(displayPtr, False);
}

void ungrabKey(int keycode, int modifiers) {
    XUngrabKey(displayPtr, keycode, modifiers, DefaultRootWindow(displayPtr));
    XSync(displayPtr, False);
}

int checkEvent(int* keycode, int* state, int* pressed) {
    if (displayPtr == NULL) return 0;

    XEvent event;
    if (XPending(displayPtr) > 0) {
        XNextEvent(displayPtr, &event);
        if (event.type == KeyPress || event.type == KeyRelease) {
            *keycode = event.xkey.keycode;
            *state = event.xkey.state;
            *pressed = (event.type == KeyPress) ? 1 : 0;
            return 1;
        }
    }
    return 0;
}

void closeDisplay() {
    if (displayPtr != NULL) {
        XCloseDisplay(displayPtr);
        displayPtr = NULL;
    }
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

// x11ModMask keeps the modifiers an accelerator can name.
const x11ModMask = x11ShiftMask | x11ControlMask | x11Mod1Mask | x11Mod4Mask

type grab struct {
	keycode   int
	modifiers int
}

type linuxManager struct {
	// mu guards the display as well as the maps; Xlib is not thread safe.
	mu        sync.Mutex
	callbacks map[grab]func(bool)
	byAccel   map[string]grab
	stop      chan struct{}
	done      chan struct{}
}

// New creates a new Linux hotkey manager using X11
func New() (Manager, error) {
	if C.openDisplay() == 0 {
		return nil, fmt.Errorf("failed to open X display")
	}
	mgr := &linuxManager{
		callbacks: make(map[grab]func(bool)),
		byAccel:   make(map[string]grab),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go mgr.eventLoop()

	return mgr, nil
}

func (m *linuxManager) Register(accel string, callback func(pressed bool)) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}

	name := C.CString(x11Keysym(a.Key))
	defer C.free(unsafe.Pointer(name))

	m.mu.Lock()
	defer m.mu.Unlock()

	keycode := int(C.keycodeFor(name))
	if keycode == 0 {
		return fmt.Errorf("failed to grab key: no keycode for %s", a.Key)
	}
	g := grab{keycode: keycode, modifiers: x11Modifiers(a)}
	for _, lock := range x11LockVariants {
		C.grabKey(C.int(g.keycode), C.int(g.modifiers|lock))
	}

	m.callbacks[g] = callback
	m.byAccel[a.String()] = g
	return nil
}

func (m *linuxManager) eventLoop() {
	defer close(m.done)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			var keycode, state, pressed C.int
			m.mu.Lock()
			got := C.checkEvent(&keycode, &state, &pressed) != 0
			g := grab{keycode: int(keycode), modifiers: int(state) & x11ModMask}
			cb, ok := m.callbacks[g]
			m.mu.Unlock()
			if got && ok {
				cb(pressed == 1)
			}
		}
	}
}

func (m *linuxManager) Unregister(accel string) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.byAccel[a.String()]
	if !ok {
		return fmt.Errorf("hotkey %s is not registered", a)
	}
	for _, lock := range x11LockVariants {
		C.ungrabKey(C.int(g.keycode), C.int(g.modifiers|lock))
	}
	delete(m.byAccel, a.String())
	delete(m.callbacks, g)
	return nil
}

func (m *linuxManager) Close() error {
	close(m.stop)
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	C.closeDisplay()
	return nil
}
