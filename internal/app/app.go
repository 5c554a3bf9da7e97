package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/petems/meetscribe/internal/audio"
	"github.com/petems/meetscribe/internal/config"
	"github.com/petems/meetscribe/internal/stream"
	"github.com/petems/meetscribe/internal/wav"
)

var (
	ErrMeetingInProgress = errors.New("meeting already in progress")
	ErrNoMeeting         = errors.New("no meeting in progress")
	// ErrCaptureEnded marks a meeting whose capture stopped without a request.
	ErrCaptureEnded = errors.New("capture ended unexpectedly")
)

const (
	stopTimeout   = 10 * time.Second
	hotkeyTimeout = 10 * time.Second
)

type Status int

const (
	StatusIdle Status = iota
	StatusRecording
	StatusStopping
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRecording:
		return "recording"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetProcessing()
	SetError()
}

// Capture is the session controller a meeting records from.
type Capture interface {
	Start(ctx context.Context, selector string) error
	Stop(ctx context.Context) error
	AudioBuffer() (audio.Buffer, bool)
	IsCapturing() bool
	Format() audio.SampleSpec
	Err() error
}

// DeviceLister renders device listings for menus and the CLI.
type DeviceLister interface {
	ListDevices(ctx context.Context) []string
	ListSpeakerDevices(ctx context.Context) []string
	ListMicrophoneDevices(ctx context.Context) []string
}

// Transcriber receives meeting audio and reports recognized speech.
type Transcriber interface {
	Send(buf audio.Buffer) error
	Results() <-chan stream.Segment
	Close() error
}

// DialFunc opens a transcription session for one meeting.
type DialFunc func(ctx context.Context) (Transcriber, error)

type Config struct {
	Capture       Capture
	Devices       DeviceLister
	Dial          DialFunc // Optional - nil records without transcription
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater        // Optional - can be nil
	OnSegment     func(stream.Segment) // Optional - sees every segment
}

// Meeting describes one recording.
type Meeting struct {
	ID         string
	Device     string
	Format     audio.SampleSpec
	Paths      []string
	Samples    int
	Started    time.Time
	Ended      time.Time
	Transcript []stream.Segment // finals only
	Err        error
}

// Path is the first file of the recording.
func (m Meeting) Path() string {
	if len(m.Paths) == 0 {
		return ""
	}
	return m.Paths[0]
}

// Duration of the recorded audio.
func (m Meeting) Duration() time.Duration {
	if m.Format.Channels <= 0 || m.Format.SampleRate <= 0 {
		return 0
	}
	frames := m.Samples / m.Format.Channels
	return time.Duration(float64(frames) / float64(m.Format.SampleRate) * float64(time.Second))
}

type App struct {
	capture   Capture
	devices   DeviceLister
	dial      DialFunc
	cfg       *config.Config
	log       zerolog.Logger
	status    StatusUpdater
	onSegment func(stream.Segment)

	// lifecycle serializes starting and finishing meetings.
	lifecycle sync.Mutex

	mu    sync.Mutex
	sess  *session
	last  *Meeting
	state Status
}

// session is the live state of one meeting. rec and tx are only touched by
// the pump until it exits, then by finish.
type session struct {
	meeting  Meeting
	rec      *wav.Series
	tx       Transcriber
	txFailed bool

	cancel   context.CancelFunc
	group    *errgroup.Group
	pumpDone chan struct{}

	mu    sync.Mutex
	final []stream.Segment
}

func New(cfg Config) *App {
	return &App{
		capture:   cfg.Capture,
		devices:   cfg.Devices,
		dial:      cfg.Dial,
		cfg:       cfg.Config,
		log:       cfg.Logger.With().Str("component", "app").Logger(),
		status:    cfg.StatusUpdater,
		onSegment: cfg.OnSegment,
	}
}

// SetStatusUpdater attaches the UI once it exists.
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// OnHotkey toggles the meeting on key press. Releases are ignored.
func (a *App) OnHotkey(pressed bool) {
	if !pressed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hotkeyTimeout)
	defer cancel()

	if a.IsRecording() {
		if _, err := a.StopMeeting(ctx); err != nil && !errors.Is(err, ErrNoMeeting) {
			a.log.Error().Err(err).Msg("Failed to stop meeting")
		}
		return
	}
	if _, err := a.StartMeeting(ctx, ""); err != nil && !errors.Is(err, ErrMeetingInProgress) {
		a.log.Error().Err(err).Msg("Failed to start meeting")
	}
}

// StartMeeting begins capturing from the device named by selector, or the
// configured device when selector is empty, into a new recording.
func (a *App) StartMeeting(ctx context.Context, selector string) (Meeting, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.IsRecording() {
		return Meeting{}, ErrMeetingInProgress
	}
	if selector == "" {
		selector = a.cfg.Audio.Device
	}

	if err := a.capture.Start(ctx, selector); err != nil {
		a.setState(StatusError)
		return Meeting{}, fmt.Errorf("failed to start capture: %w", err)
	}

	id := uuid.NewString()
	spec := a.capture.Format()
	path := filepath.Join(a.cfg.RecordingsDir(), "meeting_"+id+".wav")
	rec, err := wav.CreateSeries(path, spec, float64(a.cfg.Recording.ChunkSeconds))
	if err != nil {
		if stopErr := a.capture.Stop(ctx); stopErr != nil {
			a.log.Warn().Err(stopErr).Msg("Failed to stop capture after recording error")
		}
		a.setState(StatusError)
		return Meeting{}, fmt.Errorf("failed to create recording: %w", err)
	}

	s := &session{
		meeting: Meeting{
			ID:      id,
			Device:  selector,
			Format:  spec,
			Paths:   rec.Paths(),
			Started: time.Now(),
		},
		rec:      rec,
		pumpDone: make(chan struct{}),
	}

	if a.dial != nil {
		tx, err := a.dial(ctx)
		if err != nil {
			// the recording still has value without a transcript
			a.log.Warn().Err(err).Msg("Transcription unavailable, recording only")
		} else {
			s.tx = tx
		}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(pumpCtx)
	s.group = g
	g.Go(func() error { return a.pump(gctx, s) })
	if s.tx != nil {
		g.Go(func() error { return a.collect(s) })
	}

	a.mu.Lock()
	a.sess = s
	a.state = StatusRecording
	status := a.status
	a.mu.Unlock()
	if status != nil {
		status.SetRecording()
	}

	a.log.Info().Str("meeting", id).Str("path", s.meeting.Path()).Str("format", spec.String()).
		Bool("streaming", s.tx != nil).Msg("Meeting started")
	return s.meeting, nil
}

// StopMeeting ends the current meeting and returns what was recorded.
func (a *App) StopMeeting(ctx context.Context) (Meeting, error) {
	a.mu.Lock()
	s := a.sess
	a.mu.Unlock()
	if s == nil {
		return Meeting{}, ErrNoMeeting
	}
	return a.finish(ctx, s, nil)
}

// pump moves captured audio into the recording and transcriber until the
// meeting is stopped or capture ends on its own.
func (a *App) pump(ctx context.Context, s *session) error {
	defer close(s.pumpDone)

	ticker := time.NewTicker(a.cfg.DrainInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := a.flush(s)
		if err == nil && !a.capture.IsCapturing() {
			err = ErrCaptureEnded
			if cause := a.capture.Err(); cause != nil {
				err = fmt.Errorf("%w: %w", ErrCaptureEnded, cause)
			}
		}
		if err != nil {
			a.log.Error().Err(err).Str("meeting", s.meeting.ID).Msg("Ending meeting")
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				a.finish(ctx, s, err)
			}()
			return err
		}
	}
}

func (a *App) flush(s *session) error {
	buf, ok := a.capture.AudioBuffer()
	if !ok {
		return nil
	}
	if err := s.rec.Append(buf); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	if s.tx != nil && !s.txFailed {
		if err := s.tx.Send(buf); err != nil {
			s.txFailed = true
			a.log.Warn().Err(err).Msg("Transcription stream failed, recording only")
		}
	}
	return nil
}

func (a *App) collect(s *session) error {
	for seg := range s.tx.Results() {
		if a.onSegment != nil {
			a.onSegment(seg)
		}
		if !seg.Final {
			a.log.Debug().Str("partial", seg.Text).Msg("Partial")
			continue
		}
		s.mu.Lock()
		s.final = append(s.final, seg)
		s.mu.Unlock()
		a.log.Info().Str("final", seg.String()).Dur("start", seg.Start).Msg("Final")
	}
	return nil
}

// finish tears s down exactly once: capture, final drain, recording, then
// transcription.
func (a *App) finish(ctx context.Context, s *session, cause error) (Meeting, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	if a.sess != s {
		a.mu.Unlock()
		return Meeting{}, ErrNoMeeting
	}
	a.state = StatusStopping
	status := a.status
	a.mu.Unlock()
	if status != nil {
		status.SetProcessing()
	}

	s.cancel()
	<-s.pumpDone

	errs := []error{cause}
	if err := a.capture.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop capture: %w", err))
	}
	if err := a.flush(s); err != nil {
		errs = append(errs, err)
	}
	if err := s.rec.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close recording: %w", err))
	}
	if s.tx != nil {
		if err := s.tx.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close transcription stream")
		}
	}
	_ = s.group.Wait()

	m := s.meeting
	m.Ended = time.Now()
	m.Paths = s.rec.Paths()
	m.Samples = s.rec.Samples()
	s.mu.Lock()
	m.Transcript = append([]stream.Segment(nil), s.final...)
	s.mu.Unlock()
	m.Err = errors.Join(errs...)

	next := StatusIdle
	if m.Err != nil {
		next = StatusError
	}
	a.mu.Lock()
	a.sess = nil
	a.last = &m
	a.mu.Unlock()
	a.setState(next)

	a.log.Info().Str("meeting", m.ID).Strs("paths", m.Paths).Int("samples", m.Samples).
		Dur("duration", m.Duration()).Int("segments", len(m.Transcript)).Msg("Meeting saved")
	return m, m.Err
}

func (a *App) setState(s Status) {
	a.mu.Lock()
	a.state = s
	status := a.status
	a.mu.Unlock()
	if status == nil {
		return
	}
	switch s {
	case StatusIdle:
		status.SetIdle()
	case StatusRecording:
		status.SetRecording()
	case StatusStopping:
		status.SetProcessing()
	case StatusError:
		status.SetError()
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	_, err := a.StopMeeting(ctx)
	if errors.Is(err, ErrNoMeeting) {
		return nil
	}
	return err
}

func (a *App) IsRecording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess != nil
}

func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastMeeting returns the most recently finished meeting.
func (a *App) LastMeeting() (Meeting, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Meeting{}, false
	}
	return *a.last, true
}

// Tray actions

// SetDevice persists the capture device for the next meeting.
func (a *App) SetDevice(selector string) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.IsRecording() {
		return fmt.Errorf("cannot change device while recording")
	}
	a.cfg.Audio.Device = selector
	return a.cfg.Save()
}

func (a *App) ListDevices(ctx context.Context) []string {
	return a.devices.ListDevices(ctx)
}

func (a *App) ListSpeakerDevices(ctx context.Context) []string {
	return a.devices.ListSpeakerDevices(ctx)
}

func (a *App) ListMicrophoneDevices(ctx context.Context) []string {
	return a.devices.ListMicrophoneDevices(ctx)
}
