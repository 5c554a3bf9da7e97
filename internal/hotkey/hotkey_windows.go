//go:build windows

package hotkey

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                 = windows.NewLazySystemDLL("user32.dll")
	procRegisterHotKey     = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey   = user32.NewProc("UnregisterHotKey")
	procGetMessageW        = user32.NewProc("GetMessageW")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")
)

const (
	wmQuit   = 0x0012
	wmHotkey = 0x0312
	wmApp    = 0x8000
)

type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

// request runs on the message thread, where hotkeys must be registered.
type request struct {
	fn   func() error
	done chan error
}

type windowsManager struct {
	tid      uint32
	requests chan request
	loopDone chan struct{}

	mu        sync.Mutex
	nextID    int
	callbacks map[int]func(bool)
	ids       map[string]int
}

// New creates a Windows hotkey manager using RegisterHotKey on a
// dedicated message thread. Windows reports presses only.
func New() (Manager, error) {
	m := &windowsManager{
		requests:  make(chan request),
		loopDone:  make(chan struct{}),
		nextID:    1,
		callbacks: make(map[int]func(bool)),
		ids:       make(map[string]int),
	}

	ready := make(chan uint32)
	go m.messageLoop(ready)
	m.tid = <-ready
	return m, nil
}

func (m *windowsManager) messageLoop(ready chan<- uint32) {
	defer close(m.loopDone)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ready <- windows.GetCurrentThreadId()

	var ms msg
	for {
		ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&ms)), 0, 0, 0)
		if int32(ret) <= 0 {
			return // WM_QUIT or failure
		}
		switch ms.message {
		case wmApp:
			req := <-m.requests
			req.done <- req.fn()
		case wmHotkey:
			m.mu.Lock()
			cb, ok := m.callbacks[int(ms.wParam)]
			m.mu.Unlock()
			if ok {
				cb(true)
			}
		}
	}
}

// call runs fn on the message thread.
func (m *windowsManager) call(fn func() error) error {
	ret, _, err := procPostThreadMessageW.Call(uintptr(m.tid), wmApp, 0, 0)
	if ret == 0 {
		return fmt.Errorf("failed to reach hotkey thread: %w", err)
	}
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case m.requests <- req:
		return <-req.done
	case <-m.loopDone:
		return fmt.Errorf("hotkey manager closed")
	}
}

func (m *windowsManager) Register(accel string, callback func(pressed bool)) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}
	vk := windowsVK(a.Key)
	if vk == 0 {
		return fmt.Errorf("failed to register hotkey: no virtual key for %s", a.Key)
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.mu.Unlock()

	err = m.call(func() error {
		ret, _, callErr := procRegisterHotKey.Call(0, uintptr(id), uintptr(windowsModifiers(a)), uintptr(vk))
		if ret == 0 {
			return fmt.Errorf("failed to register hotkey %s: %w", a, callErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.callbacks[id] = callback
	m.ids[a.String()] = id
	m.mu.Unlock()
	return nil
}

func (m *windowsManager) Unregister(accel string) error {
	a, err := Parse(accel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	id, ok := m.ids[a.String()]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("hotkey %s is not registered", a)
	}

	err = m.call(func() error {
		ret, _, callErr := procUnregisterHotKey.Call(0, uintptr(id))
		if ret == 0 {
			return fmt.Errorf("failed to unregister hotkey %s: %w", a, callErr)
		}
		return nil
	})

	m.mu.Lock()
	delete(m.callbacks, id)
	delete(m.ids, a.String())
	m.mu.Unlock()
	return err
}

func (m *windowsManager) Close() error {
	m.mu.Lock()
	accels := make([]string, 0, len(m.ids))
	for accel := range m.ids {
		accels = append(accels, accel)
	}
	m.mu.Unlock()

	for _, accel := range accels {
		_ = m.Unregister(accel)
	}

	// hotkeys die with the thread; WM_QUIT ends GetMessage
	procPostThreadMessageW.Call(uintptr(m.tid), wmQuit, 0, 0)
	<-m.loopDone
	return nil
}
