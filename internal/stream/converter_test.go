package stream

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/meetscribe/internal/audio"
)

func stereo48k(frames int) audio.Buffer {
	return audio.Buffer{
		Samples: make([]float32, 2*frames),
		Format:  audio.SampleSpec{SampleRate: 48000, Channels: 2, Encoding: audio.Float32LE},
	}
}

func TestConverterOutputLength(t *testing.T) {
	c := NewConverter(16000)
	out := c.Mono(stereo48k(48000))
	assert.Len(t, out, 16000)
}

func TestConverterChunkedMatchesWhole(t *testing.T) {
	whole := NewConverter(16000)
	ramp := stereo48k(4800)
	for i := range ramp.Samples {
		ramp.Samples[i] = float32(i/2) / 4800
	}
	want := whole.Mono(ramp)

	chunked := NewConverter(16000)
	var got []float32
	for off := 0; off < len(ramp.Samples); off += 2 * 480 {
		got = append(got, chunked.Mono(audio.Buffer{Samples: ramp.Samples[off : off+2*480], Format: ramp.Format})...)
	}

	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6, "sample %d", i)
	}
}

func TestConverterUnevenRatio(t *testing.T) {
	c := NewConverter(16000)
	spec := audio.SampleSpec{SampleRate: 44100, Channels: 1, Encoding: audio.PCM16LE}

	var total int
	for i := 0; i < 100; i++ {
		total += len(c.Mono(audio.Buffer{Samples: make([]float32, 441), Format: spec}))
	}
	// one second of input
	assert.InDelta(t, 16000, total, 1)
}

func TestConverterDownmix(t *testing.T) {
	c := NewConverter(8000)
	buf := audio.Buffer{
		Samples: []float32{1, 0, 0.5, 0.5, -1, 0},
		Format:  audio.SampleSpec{SampleRate: 8000, Channels: 2},
	}
	assert.Equal(t, []float32{0.5, 0.5, -0.5}, c.Mono(buf))
}

func TestConverterResetsOnFormatChange(t *testing.T) {
	c := NewConverter(8000)
	c.Mono(audio.Buffer{Samples: []float32{1, 1, 1}, Format: audio.SampleSpec{SampleRate: 8000, Channels: 1}})

	out := c.Mono(audio.Buffer{Samples: []float32{0, 0, 0, 0}, Format: audio.SampleSpec{SampleRate: 8000, Channels: 2}})
	assert.Equal(t, []float32{0, 0}, out)
}

func TestConverterEncodePCM16(t *testing.T) {
	c := NewConverter(8000)
	data := c.Encode(audio.Buffer{
		Samples: []float32{0.5, -1, 2},
		Format:  audio.SampleSpec{SampleRate: 8000, Channels: 1},
	})
	require.Len(t, data, 6)
	assert.Equal(t, int16(16384), int16(binary.LittleEndian.Uint16(data[0:])))
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(data[2:])))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(data[4:])))
}

func TestConverterEmptyBuffer(t *testing.T) {
	c := NewConverter(0)
	assert.Equal(t, DefaultSampleRate, c.TargetRate())
	assert.Empty(t, c.Encode(audio.Buffer{}))
}
