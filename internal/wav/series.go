package wav

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/petems/meetscribe/internal/audio"
)

// Series records into consecutive files of bounded length. Without a chunk
// length it writes exactly one file at the given path.
type Series struct {
	base     string
	spec     audio.SampleSpec
	chunkLen int // samples per file, 0 for unbounded

	cur     *Recorder
	paths   []string
	samples int
}

// CreateSeries opens the first file of a recording at path. With a
// positive chunkSeconds files are named <base>_001.wav, <base>_002.wav
// and so on.
func CreateSeries(path string, spec audio.SampleSpec, chunkSeconds float64) (*Series, error) {
	s := &Series{spec: spec}
	if chunkSeconds > 0 {
		s.chunkLen = int(chunkSeconds*float64(spec.SampleRate)) * spec.Channels
		if s.chunkLen <= 0 {
			return nil, fmt.Errorf("failed to create recording: chunk of %.3fs holds no frames at %s", chunkSeconds, spec)
		}
		s.base = strings.TrimSuffix(path, filepath.Ext(path))
	}

	if err := s.open(path); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Series) open(path string) error {
	if s.chunkLen > 0 {
		path = fmt.Sprintf("%s_%03d.wav", s.base, len(s.paths)+1)
	}
	r, err := Create(path, s.spec)
	if err != nil {
		return err
	}
	s.cur = r
	s.paths = append(s.paths, path)
	return nil
}

// Append writes buf, rolling over to a new file whenever the current one
// is full. Files are only opened once there is data for them.
func (s *Series) Append(buf audio.Buffer) error {
	if s.chunkLen == 0 {
		if err := s.cur.Append(buf); err != nil {
			return err
		}
		s.samples += len(buf.Samples)
		return nil
	}

	samples := buf.Samples
	if len(samples) == 0 {
		// still surfaces a format mismatch
		return s.cur.Append(buf)
	}
	for len(samples) > 0 {
		room := s.chunkLen - s.cur.Samples()
		if room == 0 {
			if err := s.cur.Close(); err != nil {
				return err
			}
			if err := s.open(""); err != nil {
				return err
			}
			room = s.chunkLen
		}
		n := min(room, len(samples))
		if err := s.cur.Append(audio.Buffer{Samples: samples[:n], Format: buf.Format}); err != nil {
			return err
		}
		s.samples += n
		samples = samples[n:]
	}
	return nil
}

// Close finalizes the file being written.
func (s *Series) Close() error {
	return s.cur.Close()
}

// Paths lists every file opened so far, in order.
func (s *Series) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Samples counts samples across all files.
func (s *Series) Samples() int { return s.samples }

// Duration of the whole recording.
func (s *Series) Duration() time.Duration {
	frames := s.samples / s.spec.Channels
	return time.Duration(float64(frames) / float64(s.spec.SampleRate) * float64(time.Second))
}
