// Package wasapi records Windows output endpoints in WASAPI loopback mode and
// microphones in shared capture mode, at the engine's mix format.
package wasapi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/petems/meetscribe/internal/audio"
)

const (
	waveFormatPCM        = 0x0001
	waveFormatIEEEFloat  = 0x0003
	waveFormatExtensible = 0xFFFE

	waveFormatExSize         = 18
	waveFormatExtensibleSize = waveFormatExSize + 22
)

// ksDataFormatSuffix is the shared tail of the KSDATAFORMAT_SUBTYPE GUIDs.
var ksDataFormatSuffix = []byte{0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}

// mixFormat is the decoded WAVEFORMATEX(TENSIBLE) header.
type mixFormat struct {
	Tag           uint16
	Channels      uint16
	SamplesPerSec uint32
	BlockAlign    uint16
	BitsPerSample uint16
	ValidBits     uint16
	SubFormat     uint32
}

// parseMixFormat decodes the raw bytes returned by GetMixFormat.
func parseMixFormat(raw []byte) (mixFormat, error) {
	if len(raw) < waveFormatExSize {
		return mixFormat{}, fmt.Errorf("%w: short WAVEFORMATEX (%d bytes)", audio.ErrFormatNegotiation, len(raw))
	}

	le := binary.LittleEndian
	f := mixFormat{
		Tag:           le.Uint16(raw[0:]),
		Channels:      le.Uint16(raw[2:]),
		SamplesPerSec: le.Uint32(raw[4:]),
		BlockAlign:    le.Uint16(raw[12:]),
		BitsPerSample: le.Uint16(raw[14:]),
	}
	f.ValidBits = f.BitsPerSample
	f.SubFormat = uint32(f.Tag)

	if f.Tag != waveFormatExtensible {
		return f, nil
	}

	cbSize := le.Uint16(raw[16:])
	if cbSize < 22 || len(raw) < waveFormatExtensibleSize {
		return mixFormat{}, fmt.Errorf("%w: truncated WAVEFORMATEXTENSIBLE (cbSize %d)", audio.ErrFormatNegotiation, cbSize)
	}
	if v := le.Uint16(raw[18:]); v != 0 {
		f.ValidBits = v
	}
	guid := raw[24:40]
	if !bytes.Equal(guid[4:], ksDataFormatSuffix) {
		return mixFormat{}, fmt.Errorf("%w: unknown sub-format %x", audio.ErrFormatNegotiation, guid)
	}
	f.SubFormat = le.Uint32(guid)
	return f, nil
}

// Spec maps the mix format onto a capture spec. Only the layouts the
// converter understands are accepted.
func (f mixFormat) Spec() (audio.SampleSpec, error) {
	var enc audio.Encoding
	switch {
	case f.SubFormat == waveFormatPCM && f.BitsPerSample == 16:
		enc = audio.PCM16LE
	case f.SubFormat == waveFormatPCM && f.BitsPerSample == 24:
		enc = audio.PCM24LE
	case f.SubFormat == waveFormatIEEEFloat && f.BitsPerSample == 32:
		enc = audio.Float32LE
	default:
		return audio.SampleSpec{}, fmt.Errorf("%w: tag 0x%04X sub-format %d with %d-bit samples",
			audio.ErrFormatNegotiation, f.Tag, f.SubFormat, f.BitsPerSample)
	}

	spec := audio.SampleSpec{
		SampleRate: int(f.SamplesPerSec),
		Channels:   int(f.Channels),
		Encoding:   enc,
	}
	if err := spec.Validate(); err != nil {
		return audio.SampleSpec{}, err
	}
	if f.BlockAlign != 0 && int(f.BlockAlign) != spec.FrameSize() {
		return audio.SampleSpec{}, fmt.Errorf("%w: block align %d does not match %s",
			audio.ErrFormatNegotiation, f.BlockAlign, spec)
	}
	return spec, nil
}
