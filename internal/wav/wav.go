// Package wav writes captured buffers as canonical little-endian PCM16 WAV
// files.
package wav

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/petems/meetscribe/internal/audio"
)

const (
	bitDepth      = 16
	formatPCM     = 1
	maxPCM16Value = 32767
)

// ErrFormatMismatch is returned when appending a buffer whose spec differs
// from the recording's.
var ErrFormatMismatch = errors.New("buffer format does not match recording")

// Write saves buf to path and returns the number of samples written.
func Write(path string, buf audio.Buffer) (int, error) {
	r, err := Create(path, buf.Format)
	if err != nil {
		return 0, err
	}
	if err := r.Append(buf); err != nil {
		r.Close()
		return 0, err
	}
	if err := r.Close(); err != nil {
		return 0, err
	}
	return r.Samples(), nil
}

// WriteChunks splits buf into files of at most chunkSeconds each, named
// <base>_001.wav, <base>_002.wav and so on. A non-positive chunk length
// writes a single file at path.
func WriteChunks(path string, buf audio.Buffer, chunkSeconds float64) ([]string, error) {
	s, err := CreateSeries(path, buf.Format, chunkSeconds)
	if err != nil {
		return nil, err
	}
	if err := s.Append(buf); err != nil {
		s.Close()
		return s.Paths(), err
	}
	if err := s.Close(); err != nil {
		return s.Paths(), err
	}
	return s.Paths(), nil
}

// Recorder appends buffers to one WAV file as they are drained. The header
// is finalized by Close.
type Recorder struct {
	path    string
	file    *os.File
	enc     *wav.Encoder
	spec    audio.SampleSpec
	samples int
	closed  bool
}

// Create opens path for writing at spec's rate and channel count.
func Create(path string, spec audio.SampleSpec) (*Recorder, error) {
	if spec.SampleRate <= 0 || spec.Channels <= 0 {
		return nil, fmt.Errorf("failed to create recording: invalid format %s", spec)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &Recorder{
		path: path,
		file: f,
		enc:  wav.NewEncoder(f, spec.SampleRate, bitDepth, spec.Channels, formatPCM),
		spec: spec,
	}, nil
}

// Append writes buf, which must have the recording's rate and channel count.
func (r *Recorder) Append(buf audio.Buffer) error {
	if r.closed {
		return fmt.Errorf("failed to append to %s: recorder closed", r.path)
	}
	if buf.Format.SampleRate != r.spec.SampleRate || buf.Format.Channels != r.spec.Channels {
		return fmt.Errorf("%w: got %s, recording is %s", ErrFormatMismatch, buf.Format, r.spec)
	}
	if len(buf.Samples) == 0 {
		return nil
	}

	if err := r.enc.Write(&goaudio.IntBuffer{
		Data:           ToPCM16(buf.Samples),
		Format:         &goaudio.Format{SampleRate: r.spec.SampleRate, NumChannels: r.spec.Channels},
		SourceBitDepth: bitDepth,
	}); err != nil {
		return fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	r.samples += len(buf.Samples)
	return nil
}

// Samples returns the number of samples written so far.
func (r *Recorder) Samples() int { return r.samples }

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

// Duration returns the recorded length.
func (r *Recorder) Duration() time.Duration {
	frames := r.samples / r.spec.Channels
	return time.Duration(float64(frames) / float64(r.spec.SampleRate) * float64(time.Second))
}

// Close finalizes the header and closes the file. It is safe to call twice.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var encErr error
	if r.samples == 0 {
		// the encoder emits its header on the first write
		encErr = r.enc.Write(&goaudio.IntBuffer{
			Format:         &goaudio.Format{SampleRate: r.spec.SampleRate, NumChannels: r.spec.Channels},
			SourceBitDepth: bitDepth,
		})
	}
	if err := r.enc.Close(); encErr == nil {
		encErr = err
	}
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize WAV header: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close file: %w", fileErr)
	}
	return nil
}

// ToPCM16 clamps samples to [-1, 1], scales by 32768 and saturates at 32767.
func ToPCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		out[i] = int(math.Min(v*32768, maxPCM16Value))
	}
	return out
}

// Info describes a WAV file on disk.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Samples    int
	Duration   time.Duration
}

// ReadInfo reads the header of the WAV file at path.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return Info{}, errors.New("invalid WAV file format")
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("failed to locate PCM data: %w", err)
	}

	info := Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	if info.BitDepth > 0 {
		info.Samples = int(d.PCMLen()) / (info.BitDepth / 8)
	}
	if info.SampleRate > 0 && info.Channels > 0 {
		frames := info.Samples / info.Channels
		info.Duration = time.Duration(float64(frames) / float64(info.SampleRate) * float64(time.Second))
	}
	return info, nil
}
