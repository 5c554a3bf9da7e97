// Package miniaudio captures loopback audio through miniaudio. On Windows it
// opens the output endpoint in loopback mode; on Linux it records the
// PulseAudio monitor source paired with the output sink.
package miniaudio

import (
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/petems/meetscribe/internal/audio"
	"github.com/rs/zerolog"
	"github.com/smallnest/ringbuffer"
)

const (
	// ringSize holds a little over a second of 8ch float32 at 48kHz.
	ringSize = 2 << 20

	monitorSuffix = ".monitor"
)

// Backend opens miniaudio capture devices at their native format.
type Backend struct {
	log zerolog.Logger
}

// New creates a miniaudio backend.
func New(log zerolog.Logger) *Backend {
	return &Backend{log: log.With().Str("backend", "miniaudio").Logger()}
}

func (b *Backend) Name() string { return "miniaudio" }

func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, audio.NewError(audio.ErrSubsystemInit, "initialize miniaudio context", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

func (b *Backend) Devices() ([]audio.Device, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	playback, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to list playback devices: %w", err)
	}
	capture, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	devices := make([]audio.Device, 0, len(playback)+len(capture))
	for _, info := range playback {
		devices = append(devices, audio.Device{
			ID:      info.ID.String(),
			Name:    info.Name(),
			Kind:    audio.KindOutputLoopback,
			Default: info.IsDefault != 0,
		})
	}
	for _, info := range capture {
		devices = append(devices, audio.Device{
			ID:      info.ID.String(),
			Name:    info.Name(),
			Kind:    audio.KindInput,
			Default: info.IsDefault != 0,
			Monitor: strings.HasSuffix(idName(info.ID.String()), monitorSuffix),
		})
	}
	return devices, nil
}

// idName decodes a hex device ID into the backend's native identifier,
// e.g. a PulseAudio source name.
func idName(id string) string {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return id
	}
	return strings.TrimRight(string(raw), "\x00")
}

func (b *Backend) Open(dev audio.Device) (audio.Stream, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}

	s, err := b.open(ctx, dev)
	if err != nil {
		freeContext(ctx)
		return nil, err
	}
	return s, nil
}

func (b *Backend) open(ctx *malgo.AllocatedContext, dev audio.Device) (*stream, error) {
	deviceType, info, err := b.selectDevice(ctx, dev)
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(deviceType)
	cfg.Capture.Format = malgo.FormatUnknown
	cfg.Capture.Channels = 0
	cfg.SampleRate = 0
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInMilliseconds = 20
	if info != nil {
		cfg.Capture.DeviceID = info.ID.Pointer()
	}

	s := &stream{
		ctx:    ctx,
		ring:   ringbuffer.New(ringSize),
		notify: make(chan struct{}, 1),
		log:    b.log,
	}
	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, audio.NewError(audio.ErrDeviceUnavailable, "initialize capture device", err)
	}
	s.device = device

	name := "default"
	if info != nil {
		name = info.Name()
	}
	b.log.Info().Str("device", name).Str("mode", deviceTypeName(deviceType)).Msg("Opened miniaudio device")
	return s, nil
}

// selectDevice picks the device type and endpoint to open. A nil info means
// the system default for that type.
func (b *Backend) selectDevice(ctx *malgo.AllocatedContext, dev audio.Device) (malgo.DeviceType, *malgo.DeviceInfo, error) {
	if dev.Kind == audio.KindOutputLoopback && runtime.GOOS == "windows" {
		if dev.ID == "" {
			return malgo.Loopback, nil, nil
		}
		info, err := findByID(ctx, malgo.Playback, dev.ID)
		return malgo.Loopback, info, err
	}

	if dev.Kind == audio.KindInput {
		if dev.ID == "" {
			return malgo.Capture, nil, nil
		}
		info, err := findByID(ctx, malgo.Capture, dev.ID)
		return malgo.Capture, info, err
	}

	// Elsewhere loopback means recording the sink's monitor source.
	playback, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return 0, nil, audio.NewError(audio.ErrDeviceUnavailable, "list playback devices", err)
	}
	capture, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return 0, nil, audio.NewError(audio.ErrDeviceUnavailable, "list capture devices", err)
	}

	var sinks []string
	for _, p := range playback {
		if dev.ID != "" && p.ID.String() != dev.ID {
			continue
		}
		if p.IsDefault != 0 {
			sinks = append([]string{idName(p.ID.String())}, sinks...)
		} else {
			sinks = append(sinks, idName(p.ID.String()))
		}
	}
	if dev.ID != "" && len(sinks) == 0 {
		return 0, nil, audio.NewError(audio.ErrDeviceUnavailable, "find device",
			fmt.Errorf("device not found: %s", idName(dev.ID)))
	}
	sources := make([]string, len(capture))
	for i, c := range capture {
		sources[i] = idName(c.ID.String())
	}

	i := monitorFor(sources, sinks, dev.ID == "")
	if i < 0 {
		return 0, nil, audio.NewError(audio.ErrDeviceUnavailable, "find monitor source",
			fmt.Errorf("no monitor source for output %q", dev.Name))
	}
	return malgo.Capture, &capture[i], nil
}

// monitorFor returns the index of the first source monitoring one of sinks,
// tried in order. With anyMonitor set it falls back to the first monitor
// source at all. It returns -1 if nothing matches.
func monitorFor(sources, sinks []string, anyMonitor bool) int {
	for _, sink := range sinks {
		for i, s := range sources {
			if s == sink+monitorSuffix {
				return i
			}
		}
	}
	if anyMonitor {
		for i, s := range sources {
			if strings.HasSuffix(s, monitorSuffix) {
				return i
			}
		}
	}
	return -1
}

func findByID(ctx *malgo.AllocatedContext, kind malgo.DeviceType, id string) (*malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, audio.NewError(audio.ErrDeviceUnavailable, "list devices", err)
	}
	for i := range infos {
		if infos[i].ID.String() == id {
			return &infos[i], nil
		}
	}
	return nil, audio.NewError(audio.ErrDeviceUnavailable, "find device", fmt.Errorf("device not found: %s", idName(id)))
}

func deviceTypeName(t malgo.DeviceType) string {
	switch t {
	case malgo.Loopback:
		return "loopback"
	case malgo.Capture:
		return "capture"
	default:
		return fmt.Sprintf("type %d", t)
	}
}

// encodingFor maps a miniaudio sample format to the capture encoding.
func encodingFor(f malgo.FormatType) (audio.Encoding, error) {
	switch f {
	case malgo.FormatS16:
		return audio.PCM16LE, nil
	case malgo.FormatS24:
		return audio.PCM24LE, nil
	case malgo.FormatF32:
		return audio.Float32LE, nil
	default:
		return audio.EncodingUnknown, fmt.Errorf("%w: miniaudio format %d", audio.ErrUnsupportedEncoding, f)
	}
}

// stream turns miniaudio's push callback into pull reads through a byte
// ring. The callback is the only writer.
type stream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	ring   *ringbuffer.RingBuffer
	notify chan struct{}
	log    zerolog.Logger

	frameSize int
	started   bool
	closing   atomic.Bool
	stopped   atomic.Bool
	dropped   atomic.Int64
}

func (s *stream) onData(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	// Partial writes would break sample alignment, so drop whole periods.
	if s.ring.Free() < len(input) {
		s.dropped.Add(int64(len(input)))
	} else if _, err := s.ring.Write(input); err != nil {
		s.dropped.Add(int64(len(input)))
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *stream) onStop() {
	if s.closing.Load() {
		return
	}
	s.stopped.Store(true)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *stream) Format() (audio.SampleSpec, error) {
	enc, err := encodingFor(s.device.CaptureFormat())
	if err != nil {
		return audio.SampleSpec{}, audio.NewError(audio.ErrFormatNegotiation, "negotiate capture format", err)
	}
	spec := audio.SampleSpec{
		SampleRate: int(s.device.SampleRate()),
		Channels:   int(s.device.CaptureChannels()),
		Encoding:   enc,
	}
	if err := spec.Validate(); err != nil {
		return audio.SampleSpec{}, audio.NewError(audio.ErrFormatNegotiation, "negotiate capture format", err)
	}
	s.frameSize = spec.FrameSize()
	return spec, nil
}

func (s *stream) Start() error {
	if err := s.device.Start(); err != nil {
		return audio.NewError(audio.ErrIO, "start capture device", err)
	}
	s.started = true
	return nil
}

func (s *stream) Read(wait time.Duration) (audio.Chunk, error) {
	var timer *time.Timer
	for {
		if n := s.ring.Length(); n > 0 {
			if s.frameSize > 0 {
				n -= n % s.frameSize
			}
			if n > 0 {
				s.reportDropped()
				data := make([]byte, n)
				read, err := s.ring.Read(data)
				if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
					return audio.Chunk{}, audio.NewError(audio.ErrIO, "read capture ring", err)
				}
				return audio.Chunk{Data: data[:read]}, nil
			}
		}
		if s.stopped.Load() {
			return audio.Chunk{}, audio.NewError(audio.ErrIO, "read capture device", errors.New("device stopped unexpectedly"))
		}
		if wait <= 0 {
			return audio.Chunk{}, nil
		}

		if timer == nil {
			timer = time.NewTimer(wait)
			defer timer.Stop()
		}
		select {
		case <-s.notify:
		case <-timer.C:
			return audio.Chunk{}, nil
		}
	}
}

func (s *stream) reportDropped() {
	if n := s.dropped.Swap(0); n > 0 {
		s.log.Warn().Int64("bytes", n).Msg("Capture ring overflowed, dropped audio")
	}
}

func (s *stream) Close() error {
	s.closing.Store(true)

	var firstErr error
	if s.started {
		if err := s.device.Stop(); err != nil {
			firstErr = audio.NewError(audio.ErrIO, "stop capture device", err)
		}
	}
	s.device.Uninit()
	freeContext(s.ctx)
	return firstErr
}
