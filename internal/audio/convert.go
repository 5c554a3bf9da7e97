package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	pcm16Scale = 32768.0
	pcm24Scale = 8388608.0
)

// Convert decodes little-endian raw samples into floats in [-1.0, 1.0].
// Trailing bytes that do not form a whole sample are discarded. Unknown
// encodings yield no samples and ErrUnsupportedEncoding.
func Convert(data []byte, enc Encoding) ([]float32, error) {
	width := enc.Width()
	if width == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
	n := len(data) / width
	if n == 0 {
		return nil, nil
	}
	out := make([]float32, n)
	decodeInto(out, data[:n*width], enc)
	return out, nil
}

func decodeInto(out []float32, data []byte, enc Encoding) {
	switch enc {
	case PCM16LE:
		for i := range out {
			s := int16(binary.LittleEndian.Uint16(data[i*2:]))
			out[i] = float32(float64(s) / pcm16Scale)
		}
	case PCM24LE:
		for i := range out {
			b := data[i*3 : i*3+3]
			// high three bytes of an int32, then arithmetic shift sign-extends
			s := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = float32(float64(s) / pcm24Scale)
		}
	case Float32LE:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	}
}

// FrameDecoder converts a stream of chunks that may not be sample aligned.
// Bytes left over from one chunk are prepended to the next.
type FrameDecoder struct {
	enc   Encoding
	carry []byte
}

// NewFrameDecoder returns a decoder for enc.
func NewFrameDecoder(enc Encoding) *FrameDecoder {
	return &FrameDecoder{enc: enc}
}

// Decode converts chunk, keeping any partial sample for the next call.
func (d *FrameDecoder) Decode(chunk []byte) ([]float32, error) {
	width := d.enc.Width()
	if width == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, d.enc)
	}

	data := chunk
	if len(d.carry) > 0 {
		data = make([]byte, 0, len(d.carry)+len(chunk))
		data = append(append(data, d.carry...), chunk...)
	}

	n := len(data) / width
	var out []float32
	if n > 0 {
		out = make([]float32, n)
		decodeInto(out, data[:n*width], d.enc)
	}
	d.carry = append(d.carry[:0], data[n*width:]...)
	return out, nil
}

// Pending returns the number of carried bytes not yet decoded.
func (d *FrameDecoder) Pending() int {
	return len(d.carry)
}
