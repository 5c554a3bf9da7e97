package audio

import (
	"fmt"
	"time"
)

// DeviceKind is the role a capture endpoint plays.
type DeviceKind int

const (
	// KindOutputLoopback records what an output (speaker) device is playing.
	KindOutputLoopback DeviceKind = iota
	// KindInput is a true capture device such as a microphone.
	KindInput
)

func (k DeviceKind) String() string {
	switch k {
	case KindOutputLoopback:
		return "Speaker"
	case KindInput:
		return "Microphone"
	default:
		return fmt.Sprintf("DeviceKind(%d)", int(k))
	}
}

// Device is one capture-eligible endpoint as returned by enumeration.
// Indices are recomputed on every enumeration and are not stable across
// OS device changes.
type Device struct {
	Index   int
	Name    string
	Kind    DeviceKind
	Default bool

	// ID is the backend's opaque identifier. Empty means "system default".
	ID string
	// Monitor is set by backends that expose output mixes as input sources.
	Monitor bool
}

// String renders the label used by list operations: "<index>: <name> (<role>)".
func (d Device) String() string {
	role := d.Kind.String()
	if d.Index == 0 {
		role = "Default " + role
	}
	return fmt.Sprintf("%d: %s (%s)", d.Index, d.Name, role)
}

// Encoding identifies the byte layout of one raw sample.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	PCM16LE
	PCM24LE
	Float32LE
)

func (e Encoding) String() string {
	switch e {
	case PCM16LE:
		return "pcm16le"
	case PCM24LE:
		return "pcm24le"
	case Float32LE:
		return "f32le"
	default:
		return "unknown"
	}
}

// Width returns the size in bytes of one sample, or 0 for unknown encodings.
func (e Encoding) Width() int {
	switch e {
	case PCM16LE:
		return 2
	case PCM24LE:
		return 3
	case Float32LE:
		return 4
	default:
		return 0
	}
}

// ParseEncoding maps a config/CLI name to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "pcm16le", "s16", "pcm16":
		return PCM16LE, nil
	case "pcm24le", "s24", "pcm24":
		return PCM24LE, nil
	case "f32le", "f32", "float32":
		return Float32LE, nil
	default:
		return EncodingUnknown, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, s)
	}
}

// SampleSpec describes a raw interleaved stream. It is fixed once per
// session at start time.
type SampleSpec struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// PlaceholderSpec is reported by a controller that has not negotiated yet.
func PlaceholderSpec() SampleSpec {
	return SampleSpec{SampleRate: 16000, Channels: 1, Encoding: PCM16LE}
}

// Validate reports whether the spec can drive a capture session.
func (s SampleSpec) Validate() error {
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrFormatNegotiation, s.SampleRate)
	}
	if s.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrFormatNegotiation, s.Channels)
	}
	if s.Encoding.Width() == 0 {
		return fmt.Errorf("%w: encoding %s", ErrFormatNegotiation, s.Encoding)
	}
	return nil
}

// BitsPerSample of the raw encoding.
func (s SampleSpec) BitsPerSample() int {
	return s.Encoding.Width() * 8
}

// FrameSize is the byte size of one interleaved frame.
func (s SampleSpec) FrameSize() int {
	return s.Encoding.Width() * s.Channels
}

func (s SampleSpec) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", s.SampleRate, s.Channels, s.Encoding)
}

// Buffer is a batch of normalized samples together with the spec they were
// captured at.
type Buffer struct {
	Samples []float32
	Format  SampleSpec
}

// Frames returns the number of complete interleaved frames.
func (b Buffer) Frames() int {
	if b.Format.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Format.Channels
}

// Duration of the buffer at its sample rate.
func (b Buffer) Duration() time.Duration {
	if b.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.Format.SampleRate) * float64(time.Second))
}

func (b Buffer) String() string {
	return fmt.Sprintf("%.2fs @ %dHz, %d channel(s), %d samples",
		b.Duration().Seconds(), b.Format.SampleRate, b.Format.Channels, len(b.Samples))
}
