package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petems/meetscribe/internal/audio"
	"github.com/petems/meetscribe/internal/audio/tone"
	"github.com/petems/meetscribe/internal/capture"
	"github.com/petems/meetscribe/internal/config"
	"github.com/petems/meetscribe/internal/stream"
	"github.com/petems/meetscribe/internal/wav"
)

// Mock implementations for testing
type mockCapture struct {
	mu        sync.Mutex
	spec      audio.SampleSpec
	startErr  error
	capturing bool
	pending   []audio.Buffer
	err       error
	selectors []string
	stops     int
}

func newMockCapture() *mockCapture {
	return &mockCapture{spec: audio.SampleSpec{SampleRate: 8000, Channels: 2, Encoding: audio.PCM16LE}}
}

func (m *mockCapture) Start(ctx context.Context, selector string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectors = append(m.selectors, selector)
	if m.startErr != nil {
		return m.startErr
	}
	m.capturing = true
	m.err = nil
	return nil
}

func (m *mockCapture) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.capturing = false
	return nil
}

func (m *mockCapture) AudioBuffer() (audio.Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return audio.Buffer{}, false
	}
	var samples []float32
	for _, b := range m.pending {
		samples = append(samples, b.Samples...)
	}
	m.pending = nil
	return audio.Buffer{Samples: samples, Format: m.spec}, true
}

func (m *mockCapture) IsCapturing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturing
}

func (m *mockCapture) Format() audio.SampleSpec { return m.spec }

func (m *mockCapture) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *mockCapture) push(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, audio.Buffer{Samples: make([]float32, n), Format: m.spec})
}

// fail ends capture the way an I/O error on the worker would.
func (m *mockCapture) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.capturing = false
}

type mockDevices struct{}

func (mockDevices) ListDevices(ctx context.Context) []string {
	return []string{"0: Default Speaker (Default Speaker)", "1: Speakers (Speaker)", "2: Mic (Microphone)"}
}

func (mockDevices) ListSpeakerDevices(ctx context.Context) []string {
	return []string{"0: Default Speaker (Default Speaker)", "1: Speakers (Speaker)"}
}

func (mockDevices) ListMicrophoneDevices(ctx context.Context) []string {
	return []string{"2: Mic (Microphone)"}
}

type mockTranscriber struct {
	mu      sync.Mutex
	sent    int
	results chan stream.Segment
	closed  bool
}

func newMockTranscriber() *mockTranscriber {
	return &mockTranscriber{results: make(chan stream.Segment, 8)}
}

func (m *mockTranscriber) Send(buf audio.Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent += len(buf.Samples)
	m.results <- stream.Segment{Text: "part", Speaker: stream.NoSpeaker}
	return nil
}

func (m *mockTranscriber) Results() <-chan stream.Segment { return m.results }

func (m *mockTranscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.results <- stream.Segment{Text: "closing words", Final: true, Speaker: 0}
		close(m.results)
	}
	return nil
}

type mockStatus struct {
	mu      sync.Mutex
	history []string
}

func (m *mockStatus) record(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, s)
}

func (m *mockStatus) SetIdle()       { m.record("idle") }
func (m *mockStatus) SetRecording()  { m.record("recording") }
func (m *mockStatus) SetProcessing() { m.record("processing") }
func (m *mockStatus) SetError()      { m.record("error") }

func (m *mockStatus) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return ""
	}
	return m.history[len(m.history)-1]
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Recording.Dir = t.TempDir()
	cfg.Recording.DrainIntervalMS = 5
	cfg.Audio.Device = "1"
	return cfg
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ { // Poll for 2 seconds
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartStopMeetingWritesRecording(t *testing.T) {
	cfg := testConfig(t)
	capt := newMockCapture()
	status := &mockStatus{}
	app := New(Config{
		Capture:       capt,
		Devices:       mockDevices{},
		Config:        cfg,
		Logger:        zerolog.Nop(),
		StatusUpdater: status,
	})

	m, err := app.StartMeeting(context.Background(), "")
	if err != nil {
		t.Fatalf("StartMeeting failed: %v", err)
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		t.Errorf("meeting ID %q is not a UUID: %v", m.ID, err)
	}
	wantPath := filepath.Join(cfg.Recording.Dir, "meeting_"+m.ID+".wav")
	if m.Path() != wantPath {
		t.Errorf("expected path %q, got %q", wantPath, m.Path())
	}
	if capt.selectors[0] != "1" {
		t.Errorf("expected configured selector, got %q", capt.selectors[0])
	}
	if !app.IsRecording() || app.Status() != StatusRecording {
		t.Error("App should be recording after StartMeeting")
	}

	capt.push(200)
	capt.push(200)
	time.Sleep(30 * time.Millisecond)
	// left for the final drain
	capt.push(100)

	done, err := app.StopMeeting(context.Background())
	if err != nil {
		t.Fatalf("StopMeeting failed: %v", err)
	}
	if done.Samples != 500 {
		t.Errorf("expected 500 samples recorded, got %d", done.Samples)
	}
	if done.Duration() != 31250*time.Microsecond {
		t.Errorf("unexpected duration %v", done.Duration())
	}

	info, err := wav.ReadInfo(wantPath)
	if err != nil {
		t.Fatalf("recording unreadable: %v", err)
	}
	if info.Samples != 500 || info.SampleRate != 8000 || info.Channels != 2 {
		t.Errorf("unexpected recording header %+v", info)
	}

	if app.IsRecording() || app.Status() != StatusIdle {
		t.Errorf("App should be idle after StopMeeting, status %v", app.Status())
	}
	if status.last() != "idle" {
		t.Errorf("expected tray to show idle, got %q", status.last())
	}
	last, ok := app.LastMeeting()
	if !ok || last.ID != m.ID {
		t.Error("LastMeeting should return the stopped meeting")
	}
}

func TestStartMeetingTwice(t *testing.T) {
	app := New(Config{Capture: newMockCapture(), Config: testConfig(t), Logger: zerolog.Nop()})

	if _, err := app.StartMeeting(context.Background(), "0"); err != nil {
		t.Fatalf("StartMeeting failed: %v", err)
	}
	defer app.Shutdown(context.Background())

	if _, err := app.StartMeeting(context.Background(), "0"); !errors.Is(err, ErrMeetingInProgress) {
		t.Errorf("expected ErrMeetingInProgress, got %v", err)
	}
}

func TestStopWithoutMeeting(t *testing.T) {
	app := New(Config{Capture: newMockCapture(), Config: testConfig(t), Logger: zerolog.Nop()})

	if _, err := app.StopMeeting(context.Background()); !errors.Is(err, ErrNoMeeting) {
		t.Errorf("expected ErrNoMeeting, got %v", err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown while idle should succeed, got %v", err)
	}
}

func TestCaptureStartFailure(t *testing.T) {
	cfg := testConfig(t)
	capt := newMockCapture()
	capt.startErr = audio.NewError(audio.ErrDeviceUnavailable, "open", errors.New("gone"))
	status := &mockStatus{}
	app := New(Config{Capture: capt, Config: cfg, Logger: zerolog.Nop(), StatusUpdater: status})

	_, err := app.StartMeeting(context.Background(), "")
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if app.IsRecording() {
		t.Error("App should not be recording after a failed start")
	}
	if app.Status() != StatusError || status.last() != "error" {
		t.Errorf("expected error status, got %v", app.Status())
	}

	entries, _ := os.ReadDir(cfg.Recording.Dir)
	if len(entries) != 0 {
		t.Errorf("no recording should be created, found %d files", len(entries))
	}
}

func TestUnexpectedCaptureEndFinishesMeeting(t *testing.T) {
	capt := newMockCapture()
	app := New(Config{Capture: capt, Config: testConfig(t), Logger: zerolog.Nop()})

	if _, err := app.StartMeeting(context.Background(), ""); err != nil {
		t.Fatalf("StartMeeting failed: %v", err)
	}
	capt.push(64)
	capt.fail(audio.NewError(audio.ErrIO, "read capture stream", errors.New("device removed")))

	waitUntil(t, "meeting to end", func() bool { return !app.IsRecording() })

	last, ok := app.LastMeeting()
	if !ok {
		t.Fatal("expected a finished meeting")
	}
	if !errors.Is(last.Err, ErrCaptureEnded) || !errors.Is(last.Err, audio.ErrIO) {
		t.Errorf("expected capture failure on meeting, got %v", last.Err)
	}
	if last.Samples != 64 {
		t.Errorf("audio captured before the failure should be kept, got %d samples", last.Samples)
	}
	if app.Status() != StatusError {
		t.Errorf("expected error status, got %v", app.Status())
	}
}

func TestHotkeyTogglesMeeting(t *testing.T) {
	app := New(Config{Capture: newMockCapture(), Config: testConfig(t), Logger: zerolog.Nop()})

	// Release while idle does nothing
	app.OnHotkey(false)
	if app.IsRecording() {
		t.Error("App should not start recording on key release")
	}

	app.OnHotkey(true)
	if !app.IsRecording() {
		t.Error("App should be recording after first key press")
	}

	// Releases never stop a meeting
	app.OnHotkey(false)
	app.OnHotkey(false)
	if !app.IsRecording() {
		t.Error("App should still be recording after key releases")
	}

	app.OnHotkey(true)
	if app.IsRecording() {
		t.Error("App should have stopped recording after second key press")
	}
}

func TestMeetingStreamsToTranscriber(t *testing.T) {
	tx := newMockTranscriber()
	capt := newMockCapture()

	var mu sync.Mutex
	var seen []stream.Segment
	app := New(Config{
		Capture: capt,
		Config:  testConfig(t),
		Logger:  zerolog.Nop(),
		Dial: func(ctx context.Context) (Transcriber, error) {
			return tx, nil
		},
		OnSegment: func(s stream.Segment) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	})

	if _, err := app.StartMeeting(context.Background(), ""); err != nil {
		t.Fatalf("StartMeeting failed: %v", err)
	}
	capt.push(160)
	waitUntil(t, "audio to reach the transcriber", func() bool {
		tx.mu.Lock()
		defer tx.mu.Unlock()
		return tx.sent == 160
	})

	m, err := app.StopMeeting(context.Background())
	if err != nil {
		t.Fatalf("StopMeeting failed: %v", err)
	}
	if len(m.Transcript) != 1 || m.Transcript[0].Text != "closing words" {
		t.Errorf("expected the final segment in the transcript, got %+v", m.Transcript)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("expected partial and final segments, got %d", len(seen))
	}
}

func TestDialFailureStillRecords(t *testing.T) {
	capt := newMockCapture()
	app := New(Config{
		Capture: capt,
		Config:  testConfig(t),
		Logger:  zerolog.Nop(),
		Dial: func(ctx context.Context) (Transcriber, error) {
			return nil, errors.New("401 Unauthorized")
		},
	})

	if _, err := app.StartMeeting(context.Background(), ""); err != nil {
		t.Fatalf("StartMeeting should succeed without transcription: %v", err)
	}
	capt.push(10)
	m, err := app.StopMeeting(context.Background())
	if err != nil {
		t.Fatalf("StopMeeting failed: %v", err)
	}
	if m.Samples != 10 {
		t.Errorf("expected 10 samples, got %d", m.Samples)
	}
}

func TestChunkedMeeting(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recording.ChunkSeconds = 1
	capt := newMockCapture()
	app := New(Config{Capture: capt, Config: cfg, Logger: zerolog.Nop()})

	m, err := app.StartMeeting(context.Background(), "")
	if err != nil {
		t.Fatalf("StartMeeting failed: %v", err)
	}
	// 2.5 seconds of 8kHz stereo
	capt.push(40000)
	done, err := app.StopMeeting(context.Background())
	if err != nil {
		t.Fatalf("StopMeeting failed: %v", err)
	}

	if len(done.Paths) != 3 {
		t.Fatalf("expected 3 files, got %v", done.Paths)
	}
	for i, p := range done.Paths {
		if !strings.HasPrefix(filepath.Base(p), "meeting_"+m.ID+"_00") {
			t.Errorf("file %d has unexpected name %q", i, p)
		}
	}
}

func TestListDevicesPassthrough(t *testing.T) {
	app := New(Config{Capture: newMockCapture(), Devices: mockDevices{}, Config: testConfig(t), Logger: zerolog.Nop()})
	ctx := context.Background()

	if got := len(app.ListDevices(ctx)); got != 3 {
		t.Errorf("expected 3 devices, got %d", got)
	}
	if got := len(app.ListSpeakerDevices(ctx)); got != 2 {
		t.Errorf("expected 2 speakers, got %d", got)
	}
	if got := app.ListMicrophoneDevices(ctx); len(got) != 1 || !strings.HasPrefix(got[0], "2:") {
		t.Errorf("unexpected microphones %v", got)
	}
}

func TestSetDevice(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("APPDATA", home)

	cfg := testConfig(t)
	capt := newMockCapture()
	app := New(Config{Capture: capt, Config: cfg, Logger: zerolog.Nop()})

	if err := app.SetDevice("3: Headset (Microphone)"); err != nil {
		t.Fatalf("SetDevice failed: %v", err)
	}
	saved, err := config.LoadFile(config.Path())
	if err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if saved.Audio.Device != "3: Headset (Microphone)" {
		t.Errorf("expected device to be saved, got %q", saved.Audio.Device)
	}

	if _, err := app.StartMeeting(context.Background(), ""); err != nil {
		t.Fatalf("StartMeeting failed: %v", err)
	}
	if err := app.SetDevice("1"); err == nil {
		t.Error("SetDevice should fail while recording")
	}
	if cfg.Audio.Device != "3: Headset (Microphone)" {
		t.Errorf("device changed during meeting: %q", cfg.Audio.Device)
	}
	if _, err := app.StopMeeting(context.Background()); err != nil {
		t.Fatalf("StopMeeting failed: %v", err)
	}
}

// Run with -race: the tray and the hotkey touch the device from
// different goroutines.
func TestSetDeviceConcurrentWithHotkey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("APPDATA", home)

	capt := newMockCapture()
	app := New(Config{Capture: capt, Config: testConfig(t), Logger: zerolog.Nop()})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			app.OnHotkey(true)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			_ = app.SetDevice("2")
		}
	}()
	wg.Wait()

	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if app.IsRecording() {
		t.Error("App should be idle after Shutdown")
	}
}

func TestMeetingWithToneBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audio.Device = "0"

	backend := tone.New(tone.Config{
		Spec:   audio.SampleSpec{SampleRate: 16000, Channels: 1, Encoding: audio.PCM16LE},
		Logger: zerolog.Nop(),
	})
	ctrl := capture.New(capture.Config{Backend: backend, Logger: zerolog.Nop()})
	app := New(Config{Capture: ctrl, Devices: ctrl.Devices(), Config: cfg, Logger: zerolog.Nop()})

	if _, err := app.StartMeeting(context.Background(), ""); err != nil {
		t.Fatalf("StartMeeting failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	m, err := app.StopMeeting(context.Background())
	if err != nil {
		t.Fatalf("StopMeeting failed: %v", err)
	}

	info, err := wav.ReadInfo(m.Path())
	if err != nil {
		t.Fatalf("recording unreadable: %v", err)
	}
	if info.Samples != m.Samples || int64(info.Samples) != backend.Generated() {
		t.Errorf("recorded %d samples, meeting reports %d, backend generated %d",
			info.Samples, m.Samples, backend.Generated())
	}
	if info.Samples == 0 {
		t.Error("expected audio in the recording")
	}
}
