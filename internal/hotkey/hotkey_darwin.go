//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework Carbon
#include <Carbon/Carbon.h>

// Forward declaration for Go callback
extern void goHotkeyCallback(int id, int pressed);

static EventHandlerRef handlerRef = NULL;

// Event handler for hotkeys
static OSStatus hotkeyHandler(EventHandlerCallRef nextHandler, EventRef theEvent, void* userData) {
    EventHotKeyID hkID;
    GetEventParameter(theEvent, kEventParamDirectObject, typeEventHotKeyID, NULL, sizeof(hkID), NULL, &hkID);

    UInt32 eventKind = GetEventKind(theEvent);
    int pressed = (eventKind == kEventHotKeyPressed) ? 1 : 0;

    goHotkeyCallback((int)hkID.id, pressed);

    return noErr;
}

static int installHandler() {
    if (handlerRef != NULL) return 1;

    EventTypeSpec eventTypes[2];
    eventTypes[0].eventClass = kEventClassKeyboard;
    eventTypes[0].eventKind = kEventHotKeyPressed;
    eventTypes[1].eventClass = kEventClassKeyboard;
    eventTypes[1].eventKind = kEventHotKeyReleased;

    EventHandlerUPP handlerUPP = NewEventHandlerUPP(hotkeyHandler);
    return InstallApplicationEventHandler(handlerUPP, 2, eventTypes, NULL, &handlerRef) == noErr;
}

// Register hotkey with Carbon; the ref is returned through out.
static int registerHotkey(UInt32 keyCode, UInt32 modifiers, UInt32 id, EventHotKeyRef* out) {
    EventHotKeyID hotKeyID;
    hotKeyID.signature = 'mtsc';
    hotKeyID.id = id;

    OSStatus status = RegisterEventHotKey(keyCode, modifiers, hotKeyID, GetApplicationEventTarget(), 0, out);

    return (status == noErr) ? 1 : 0;
}

static void unregisterHotkey(EventHotKeyRef ref) {
    UnregisterEventHotKey(ref);
}
*/
import "C"

import (
	"fmt"
	"sync"
)

type darwinHotkey struct {
	ref      C.EventHotKeyRef
	callback func(bool)
}

type darwinManager struct {
	mu     sync.Mutex
	nextID int
	keys   map[int]*darwinHotkey
	ids    map[string]int
}

var (
	globalMu      sync.Mutex
	globalManager *darwinManager
)

// New creates a new macOS hotkey manager using Carbon
func New() (Manager, error) {
	if C.installHandler() == 0 {
		return nil, fmt.Errorf("failed to install hotkey handler")
	}
	mgr := &darwinManager{
		nextID: 1,
		keys:   make(map[int]*darwinHotkey),
		ids:    make(map[string]int),
	}
	globalMu.Lock()
	globalManager = mgr
	globalMu.Unlock()
	return mgr, nil
}

//export goHotkeyCallback
func goHotkeyCallback(id C.int, pressed C.int) {
	globalMu.Lock()
	mgr := globalManager
	globalMu.Unlock()
	if mgr == nil {
		return
	}

	mgr.mu.Lock()
	hk, ok := mgr.keys[int(id)]
	mgr.mu.Unlock()
	if ok && hk.callback != nil {
		hk.callback(pressed == 1)
	}
}

func (m *darwinManager) Register(accel string, callback func(pressed bool)) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}
	keyCode, ok := carbonKeyCodes[a.Key]
	if !ok {
		return fmt.Errorf("failed to register hotkey: no key code for %s", a.Key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	hk := &darwinHotkey{callback: callback}
	if C.registerHotkey(C.UInt32(keyCode), C.UInt32(carbonModifiers(a)), C.UInt32(id), &hk.ref) == 0 {
		return fmt.Errorf("failed to register hotkey %s", a)
	}
	m.nextID++
	m.keys[id] = hk
	m.ids[a.String()] = id
	return nil
}

func (m *darwinManager) Unregister(accel string) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.ids[a.String()]
	if !ok {
		return fmt.Errorf("hotkey %s is not registered", a)
	}
	C.unregisterHotkey(m.keys[id].ref)
	delete(m.keys, id)
	delete(m.ids, a.String())
	return nil
}

func (m *darwinManager) Close() error {
	m.mu.Lock()
	for id, hk := range m.keys {
		C.unregisterHotkey(hk.ref)
		delete(m.keys, id)
	}
	m.ids = make(map[string]int)
	m.mu.Unlock()

	globalMu.Lock()
	if globalManager == m {
		globalManager = nil
	}
	globalMu.Unlock()
	return nil
}
