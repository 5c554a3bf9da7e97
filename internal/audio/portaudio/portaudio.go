// Package portaudio captures through PortAudio blocking streams. The sample
// format is fixed by the open call (PCM16LE at the configured rate), so
// negotiation returns that contract unchanged.
package portaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/meetscribe/internal/audio"
	"github.com/rs/zerolog"
)

// bufferPeriod is the blocking read granularity.
const bufferPeriod = 20 * time.Millisecond

// Backend opens PortAudio input streams.
type Backend struct {
	sampleRate int
	channels   int
	log        zerolog.Logger
}

// New creates a PortAudio backend that records at sampleRate with up to
// channels channels.
func New(sampleRate, channels int, log zerolog.Logger) *Backend {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if channels <= 0 {
		channels = 2
	}
	return &Backend{
		sampleRate: sampleRate,
		channels:   channels,
		log:        log.With().Str("backend", "portaudio").Logger(),
	}
}

func (b *Backend) Name() string { return "portaudio" }

func (b *Backend) Devices() ([]audio.Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, audio.NewError(audio.ErrSubsystemInit, "initialize PortAudio", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defaultDevice, _ := portaudio.DefaultInputDevice()

	result := make([]audio.Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		kind := audio.KindInput
		if isMonitorName(d.Name) {
			kind = audio.KindOutputLoopback
		}
		result = append(result, audio.Device{
			ID:      d.Name,
			Name:    d.Name,
			Kind:    kind,
			Default: d == defaultDevice,
		})
	}
	return result, nil
}

func (b *Backend) Open(dev audio.Device) (audio.Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, audio.NewError(audio.ErrSubsystemInit, "initialize PortAudio", err)
	}

	s, err := b.open(dev)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	return s, nil
}

func (b *Backend) open(dev audio.Device) (*stream, error) {
	info, err := findDevice(dev)
	if err != nil {
		return nil, err
	}

	channels := b.channels
	if info.MaxInputChannels < channels {
		channels = info.MaxInputChannels
	}
	frames := b.sampleRate * int(bufferPeriod/time.Millisecond) / 1000

	buffer := make([]int16, frames*channels)
	pa, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(b.sampleRate),
		FramesPerBuffer: frames,
	}, buffer)
	if err != nil {
		return nil, audio.NewError(audio.ErrDeviceUnavailable, "open audio stream on "+info.Name, err)
	}

	b.log.Info().Str("device", info.Name).Int("rate", b.sampleRate).Int("channels", channels).Msg("Opened PortAudio stream")
	return &stream{
		pa:     pa,
		buffer: buffer,
		frames: frames,
		spec:   audio.SampleSpec{SampleRate: b.sampleRate, Channels: channels, Encoding: audio.PCM16LE},
		log:    b.log,
	}, nil
}

func findDevice(dev audio.Device) (*portaudio.DeviceInfo, error) {
	if dev.ID == "" && dev.Kind == audio.KindInput {
		d, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, audio.NewError(audio.ErrDeviceUnavailable, "get default input device", err)
		}
		return d, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, audio.NewError(audio.ErrDeviceUnavailable, "enumerate devices", err)
	}
	if d := matchDevice(devices, dev); d != nil {
		return d, nil
	}

	if dev.ID == "" {
		return nil, audio.NewError(audio.ErrDeviceUnavailable, "find default loopback source",
			errors.New("PortAudio exposes no monitor input"))
	}
	return nil, audio.NewError(audio.ErrDeviceUnavailable, "find device", fmt.Errorf("device not found: %s", dev.ID))
}

// matchDevice picks the input named by dev.ID, or the first monitor input
// when dev is the default loopback.
func matchDevice(devices []*portaudio.DeviceInfo, dev audio.Device) *portaudio.DeviceInfo {
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		if dev.ID == "" && isMonitorName(d.Name) {
			return d
		}
		if dev.ID != "" && d.Name == dev.ID {
			return d
		}
	}
	return nil
}

func isMonitorName(name string) bool {
	return strings.Contains(strings.ToLower(name), "monitor")
}

type stream struct {
	pa     *portaudio.Stream
	buffer []int16
	frames int
	spec   audio.SampleSpec
	log    zerolog.Logger
}

func (s *stream) Format() (audio.SampleSpec, error) {
	return s.spec, nil
}

func (s *stream) Start() error {
	if err := s.pa.Start(); err != nil {
		return audio.NewError(audio.ErrIO, "start audio stream", err)
	}
	return nil
}

// Read blocks for one buffer period when wait is positive; with zero wait it
// only returns a buffer that is already available.
func (s *stream) Read(wait time.Duration) (audio.Chunk, error) {
	if wait <= 0 {
		avail, err := s.pa.AvailableToRead()
		if err != nil {
			return audio.Chunk{}, audio.NewError(audio.ErrIO, "query available frames", err)
		}
		if avail < s.frames {
			return audio.Chunk{}, nil
		}
	}

	if err := s.pa.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return audio.Chunk{}, audio.NewError(audio.ErrIO, "read audio stream", err)
		}
		s.log.Debug().Msg("Input overflowed")
	}

	data := make([]byte, len(s.buffer)*2)
	for i, v := range s.buffer {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return audio.Chunk{Data: data}, nil
}

func (s *stream) Close() error {
	var firstErr error
	if err := s.pa.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to stop stream")
	}
	if err := s.pa.Close(); err != nil {
		firstErr = audio.NewError(audio.ErrIO, "close audio stream", err)
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = audio.NewError(audio.ErrSubsystemInit, "terminate PortAudio", err)
	}
	return firstErr
}
