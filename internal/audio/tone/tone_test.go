package tone

import (
	"math"
	"testing"
	"time"

	"github.com/petems/meetscribe/internal/audio"
)

func TestToneDeliversRealTimeFrames(t *testing.T) {
	spec := audio.SampleSpec{SampleRate: 16000, Channels: 2, Encoding: audio.PCM16LE}
	b := New(Config{Spec: spec, Period: 10 * time.Millisecond})

	s, err := b.Open(audio.Device{})
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer s.Close()

	got, err := s.Format()
	if err != nil || got != spec {
		t.Fatalf("expected %s, got %s (%v)", spec, got, err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	var total int
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		chunk, err := s.Read(20 * time.Millisecond)
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		if len(chunk.Data)%spec.FrameSize() != 0 {
			t.Fatalf("chunk of %d bytes is not frame aligned", len(chunk.Data))
		}
		total += len(chunk.Data) / spec.FrameSize()
	}

	if int64(total) != b.Generated() {
		t.Errorf("read %d frames but backend reports %d", total, b.Generated())
	}
	// 100ms at 16kHz, give or take scheduling jitter
	if total < 1200 || total > 2400 {
		t.Errorf("expected roughly 1600 frames, got %d", total)
	}
}

func TestToneZeroWaitDoesNotBlock(t *testing.T) {
	b := New(Config{Period: time.Second})
	s, _ := b.Open(audio.Device{})
	defer s.Close()
	_ = s.Start()

	start := time.Now()
	chunk, err := s.Read(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunk.Data) != 0 {
		t.Fatalf("expected no data before the first period, got %d bytes", len(chunk.Data))
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("zero-wait read blocked")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, enc := range []audio.Encoding{audio.PCM16LE, audio.PCM24LE, audio.Float32LE} {
		buf := make([]byte, enc.Width()*3)
		Encode(buf, 0.5, enc)
		Encode(buf[enc.Width():], -1.5, enc)
		Encode(buf[2*enc.Width():], 1.0, enc)

		got, err := audio.Convert(buf, enc)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", enc, err)
		}
		if math.Abs(float64(got[0])-0.5) > 1e-4 {
			t.Errorf("%s: expected 0.5, got %v", enc, got[0])
		}
		if got[1] != -1.0 {
			t.Errorf("%s: expected clamp to -1, got %v", enc, got[1])
		}
		if got[2] > 1.0 || got[2] < 0.9999 {
			t.Errorf("%s: expected saturation near 1, got %v", enc, got[2])
		}
	}
}

func TestOpenStreamsTracksClose(t *testing.T) {
	b := New(DefaultConfig())
	s, _ := b.Open(audio.Device{})
	if b.OpenStreams() != 1 {
		t.Fatalf("expected 1 open stream, got %d", b.OpenStreams())
	}
	_ = s.Close()
	_ = s.Close()
	if b.OpenStreams() != 0 {
		t.Fatalf("expected 0 open streams, got %d", b.OpenStreams())
	}
}
