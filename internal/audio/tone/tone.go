// Package tone is a synthetic capture backend. It produces a sine wave in
// real time at a fixed spec, which makes it usable for end-to-end tests and
// for checking a pipeline without any audio hardware.
package tone

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/meetscribe/internal/audio"
	"github.com/rs/zerolog"
)

// Config describes the generated signal.
type Config struct {
	Spec      audio.SampleSpec
	Frequency float64
	Amplitude float64
	// Period is the delivery granularity.
	Period time.Duration
	Logger zerolog.Logger
}

// DefaultConfig is a 440Hz tone at half volume, 48kHz stereo float.
func DefaultConfig() Config {
	return Config{
		Spec:      audio.SampleSpec{SampleRate: 48000, Channels: 2, Encoding: audio.Float32LE},
		Frequency: 440,
		Amplitude: 0.5,
		Period:    10 * time.Millisecond,
		Logger:    zerolog.Nop(),
	}
}

// Backend exposes one loopback and one input device, both producing the tone.
type Backend struct {
	cfg       Config
	log       zerolog.Logger
	generated atomic.Int64
	mu        sync.Mutex
	open      int
}

// New creates a tone backend.
func New(cfg Config) *Backend {
	def := DefaultConfig()
	if cfg.Frequency <= 0 {
		cfg.Frequency = def.Frequency
	}
	if cfg.Amplitude <= 0 || cfg.Amplitude > 1 {
		cfg.Amplitude = def.Amplitude
	}
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.Spec == (audio.SampleSpec{}) {
		cfg.Spec = def.Spec
	}
	return &Backend{cfg: cfg, log: cfg.Logger.With().Str("backend", "tone").Logger()}
}

func (b *Backend) Name() string { return "tone" }

func (b *Backend) Devices() ([]audio.Device, error) {
	return []audio.Device{
		{ID: "tone-out", Name: "Test Tone", Kind: audio.KindOutputLoopback, Default: true},
		{ID: "tone-in", Name: "Test Tone Input", Kind: audio.KindInput, Default: true},
	}, nil
}

func (b *Backend) Open(dev audio.Device) (audio.Stream, error) {
	b.mu.Lock()
	b.open++
	b.mu.Unlock()
	b.generated.Store(0)

	b.log.Debug().Str("device", dev.Name).Str("spec", b.cfg.Spec.String()).Msg("Opened tone stream")
	return &stream{backend: b}, nil
}

// Generated reports how many frames the most recently opened stream has
// delivered.
func (b *Backend) Generated() int64 {
	return b.generated.Load()
}

// OpenStreams reports how many streams are currently open.
func (b *Backend) OpenStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

type stream struct {
	backend *Backend
	start   time.Time
	periods int64
	index   int64
	closed  bool
}

func (s *stream) Format() (audio.SampleSpec, error) {
	spec := s.backend.cfg.Spec
	if err := spec.Validate(); err != nil {
		return audio.SampleSpec{}, audio.NewError(audio.ErrFormatNegotiation, "negotiate tone format", err)
	}
	return spec, nil
}

func (s *stream) Start() error {
	s.start = time.Now()
	return nil
}

// Read returns every whole period that has elapsed since the last read,
// sleeping up to wait for the next one.
func (s *stream) Read(wait time.Duration) (audio.Chunk, error) {
	period := s.backend.cfg.Period
	due := int64(time.Since(s.start)/period) - s.periods
	if due <= 0 && wait > 0 {
		next := s.start.Add(time.Duration(s.periods+1) * period)
		time.Sleep(min(time.Until(next), wait))
		due = int64(time.Since(s.start)/period) - s.periods
	}
	if due <= 0 {
		return audio.Chunk{}, nil
	}

	spec := s.backend.cfg.Spec
	// Frames are derived from elapsed periods so rounding never accumulates.
	end := (s.periods + due) * int64(period) * int64(spec.SampleRate) / int64(time.Second)
	frames := end - s.index
	if frames <= 0 {
		s.periods += due
		return audio.Chunk{}, nil
	}

	data := s.render(int(frames))
	s.periods += due
	s.index = end
	s.backend.generated.Add(frames)
	return audio.Chunk{Data: data}, nil
}

func (s *stream) render(frames int) []byte {
	cfg := s.backend.cfg
	spec := cfg.Spec
	width := spec.Encoding.Width()
	data := make([]byte, frames*spec.FrameSize())

	for i := 0; i < frames; i++ {
		t := float64(s.index+int64(i)) / float64(spec.SampleRate)
		v := cfg.Amplitude * math.Sin(2*math.Pi*cfg.Frequency*t)
		for ch := 0; ch < spec.Channels; ch++ {
			Encode(data[(i*spec.Channels+ch)*width:], v, spec.Encoding)
		}
	}
	return data
}

// Encode writes v, clamped to [-1, 1], into dst in enc.
func Encode(dst []byte, v float64, enc audio.Encoding) {
	v = math.Max(-1, math.Min(1, v))
	switch enc {
	case audio.PCM16LE:
		binary.LittleEndian.PutUint16(dst, uint16(int16(math.Min(v*32768, 32767))))
	case audio.PCM24LE:
		s := int32(math.Min(v*8388608, 8388607))
		dst[0] = byte(s)
		dst[1] = byte(s >> 8)
		dst[2] = byte(s >> 16)
	case audio.Float32LE:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	}
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.backend.mu.Lock()
	s.backend.open--
	s.backend.mu.Unlock()
	return nil
}
