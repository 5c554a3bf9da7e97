package tray

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/petems/meetscribe/internal/app"
	"github.com/petems/meetscribe/internal/config"
	"github.com/petems/meetscribe/internal/logging"
)

const actionTimeout = 15 * time.Second

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	// Menu items
	mMeeting  *systray.MenuItem
	mSpeakers *systray.MenuItem
	mMics     *systray.MenuItem
	mCopyPath *systray.MenuItem

	devMu       sync.Mutex
	deviceItems map[string]*systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetProcessing() {
	u.updateStatus("processing")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

func New(application *app.App, cfg *config.Config, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		app:         application,
		cfg:         cfg,
		version:     version,
		commit:      commit,
		log:         log.With().Str("component", "tray").Logger(),
		deviceItems: make(map[string]*systray.MenuItem),
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Run blocks until Quit is chosen or ctx is cancelled.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.updateStatus("idle")
	systray.SetTooltip("Meeting recorder")

	// Build menu
	u.mMeeting = systray.AddMenuItem(meetingTitle(false), "Record what the selected device plays")
	systray.AddSeparator()

	u.mSpeakers = systray.AddMenuItem("Speaker", "Record a playback device")
	u.mMics = systray.AddMenuItem("Microphone", "Record an input device")
	u.buildDeviceMenus()

	systray.AddSeparator()
	u.mCopyPath = systray.AddMenuItem("Copy Last Recording Path", "Copy the last WAV path to the clipboard")
	u.mCopyPath.Disable()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About meetscribe")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mMeeting.ClickedCh:
			u.toggleMeeting()
		case <-u.mCopyPath.ClickedCh:
			u.copyLastPath()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildDeviceMenus() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	u.addDevices(u.mSpeakers, u.app.ListSpeakerDevices(ctx))
	u.addDevices(u.mMics, u.app.ListMicrophoneDevices(ctx))
}

func (u *UI) addDevices(parent *systray.MenuItem, labels []string) {
	if len(labels) == 0 {
		parent.Disable()
		return
	}
	current := selectorOrDefault(u.cfg.Audio.Device)

	for _, label := range labels {
		selector := selectorFromLabel(label)
		item := parent.AddSubMenuItem(label, "")
		if selector == current {
			item.Check()
		}
		u.devMu.Lock()
		u.deviceItems[selector] = item
		u.devMu.Unlock()

		go func(selector, label string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				u.selectDevice(selector, label)
			}
		}(selector, label, item)
	}
}

func (u *UI) selectDevice(selector, label string) {
	if err := u.app.SetDevice(selector); err != nil {
		u.log.Error().Err(err).Str("device", label).Msg("Failed to change device")
		return
	}

	u.devMu.Lock()
	for sel, itm := range u.deviceItems {
		if sel == selector {
			itm.Check()
		} else {
			itm.Uncheck()
		}
	}
	u.devMu.Unlock()
	u.log.Info().Str("device", label).Msg("Changed capture device")
}

func (u *UI) toggleMeeting() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if u.app.IsRecording() {
		m, err := u.app.StopMeeting(ctx)
		if err != nil {
			u.log.Error().Err(err).Msg("Meeting ended with errors")
		}
		if m.Path() != "" {
			u.mCopyPath.Enable()
		}
		return
	}
	if _, err := u.app.StartMeeting(ctx, ""); err != nil {
		u.log.Error().Err(err).Msg("Failed to start meeting")
	}
}

func (u *UI) copyLastPath() {
	m, ok := u.app.LastMeeting()
	if !ok || m.Path() == "" {
		return
	}
	if err := clipboard.WriteAll(m.Path()); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy recording path")
		return
	}
	u.log.Info().Str("path", m.Path()).Msg("Copied recording path")
}

func (u *UI) openLogs() {
	path := logging.LogPath()
	if err := browser.OpenFile(path); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
	}
}

func (u *UI) showAbout() {
	// TODO: Show about dialog with native UI
	fmt.Printf("meetscribe %s (%s)\nMeeting audio recorder\n", u.version, u.commit)
}

func (u *UI) onExit() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := u.app.Shutdown(ctx); err != nil {
		u.log.Error().Err(err).Msg("Failed to save meeting on exit")
	}
}

// updateStatus sets the tray title with status indicator and meeting action
func (u *UI) updateStatus(status string) {
	systray.SetTitle(fmt.Sprintf("🎙 %s", emojiForStatus(status)))
	if u.mMeeting != nil {
		u.mMeeting.SetTitle(meetingTitle(status == "recording" || status == "processing"))
	}
	if status == "idle" && u.mCopyPath != nil {
		if _, ok := u.app.LastMeeting(); ok {
			u.mCopyPath.Enable()
		}
	}
}

func meetingTitle(recording bool) string {
	if recording {
		return "Stop Meeting"
	}
	return "Start Meeting"
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "processing":
		return "🟡" // Yellow - saving the recording
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

// selectorFromLabel extracts the index from "<index>: <name> (<role>)".
func selectorFromLabel(label string) string {
	idx, _, ok := strings.Cut(label, ":")
	if !ok {
		return ""
	}
	return strings.TrimSpace(idx)
}

func selectorOrDefault(selector string) string {
	if selector == "" {
		return "0"
	}
	return selector
}
