// Package stream sends captured meeting audio to a websocket speech
// recognition service and surfaces its transcript segments.
package stream

import (
	"encoding/binary"

	"github.com/petems/meetscribe/internal/audio"
	"github.com/petems/meetscribe/internal/wav"
)

// DefaultSampleRate is what the recognizer is told to expect.
const DefaultSampleRate = 16000

// Converter turns interleaved capture buffers into mono PCM16LE at a fixed
// rate. Interpolation state carries across buffers so chunk boundaries do
// not click or drift.
type Converter struct {
	target int

	spec     audio.SampleSpec
	ratio    float64
	position float64
	last     float32
	haveLast bool
}

// NewConverter creates a converter producing target Hz mono.
func NewConverter(target int) *Converter {
	if target <= 0 {
		target = DefaultSampleRate
	}
	return &Converter{target: target}
}

// TargetRate is the output sample rate.
func (c *Converter) TargetRate() int {
	return c.target
}

// Reset drops carried interpolation state.
func (c *Converter) Reset() {
	c.spec = audio.SampleSpec{}
	c.position = 0
	c.last = 0
	c.haveLast = false
}

// Mono downmixes and resamples buf.
func (c *Converter) Mono(buf audio.Buffer) []float32 {
	frames := buf.Frames()
	if frames == 0 || buf.Format.SampleRate <= 0 {
		return nil
	}
	if buf.Format.SampleRate != c.spec.SampleRate || buf.Format.Channels != c.spec.Channels {
		c.Reset()
		c.spec = buf.Format
		c.ratio = float64(buf.Format.SampleRate) / float64(c.target)
	}

	mono := downmix(buf.Samples[:frames*buf.Format.Channels], buf.Format.Channels)

	// src is the carried frame followed by this buffer.
	src := mono
	if c.haveLast {
		src = make([]float32, 0, len(mono)+1)
		src = append(src, c.last)
		src = append(src, mono...)
	}

	lastIdx := float64(len(src) - 1)
	out := make([]float32, 0, int(float64(len(src))/c.ratio)+1)
	for c.position <= lastIdx {
		i := int(c.position)
		frac := float32(c.position - float64(i))
		v := src[i]
		if frac > 0 {
			v += (src[i+1] - v) * frac
		}
		out = append(out, v)
		c.position += c.ratio
	}

	c.position -= lastIdx
	c.last = src[len(src)-1]
	c.haveLast = true
	return out
}

// Encode converts buf to little-endian 16-bit mono at the target rate.
func (c *Converter) Encode(buf audio.Buffer) []byte {
	pcm := wav.ToPCM16(c.Mono(buf))
	out := make([]byte, 2*len(pcm))
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

func downmix(samples []float32, channels int) []float32 {
	if channels == 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	scale := 1 / float32(channels)
	for f := range out {
		var sum float32
		for _, s := range samples[f*channels : (f+1)*channels] {
			sum += s
		}
		out[f] = sum * scale
	}
	return out
}
