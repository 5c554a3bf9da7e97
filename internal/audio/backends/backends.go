// Package backends selects a capture backend by name.
package backends

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/petems/meetscribe/internal/audio"
	"github.com/petems/meetscribe/internal/audio/miniaudio"
	"github.com/petems/meetscribe/internal/audio/portaudio"
	"github.com/petems/meetscribe/internal/audio/tone"
	"github.com/rs/zerolog"
)

// Options carries the settings backends need at construction time.
type Options struct {
	// SampleRate and Channels apply to fixed-format backends.
	SampleRate int
	Channels   int
	// Encoding applies to the tone backend.
	Encoding audio.Encoding
	Logger   zerolog.Logger
}

type factory func(Options) audio.Backend

var registry = map[string]factory{
	"miniaudio": func(o Options) audio.Backend { return miniaudio.New(o.Logger) },
	"portaudio": func(o Options) audio.Backend { return portaudio.New(o.SampleRate, o.Channels, o.Logger) },
	"tone": func(o Options) audio.Backend {
		cfg := tone.DefaultConfig()
		cfg.Logger = o.Logger
		if o.SampleRate > 0 {
			cfg.Spec.SampleRate = o.SampleRate
		}
		if o.Channels > 0 {
			cfg.Spec.Channels = o.Channels
		}
		if o.Encoding != audio.EncodingUnknown {
			cfg.Spec.Encoding = o.Encoding
		}
		return tone.New(cfg)
	},
}

// Default returns the backend name used when none is configured.
func Default() string {
	if runtime.GOOS == "windows" {
		return "wasapi"
	}
	return "miniaudio"
}

// Names lists the backends available on this platform.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the named backend. An empty name selects Default().
func New(name string, opts Options) (audio.Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = Default()
	}
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown audio backend %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(opts), nil
}
