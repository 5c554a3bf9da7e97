//go:build windows

package backends

import (
	"github.com/petems/meetscribe/internal/audio"
	"github.com/petems/meetscribe/internal/audio/wasapi"
)

func init() {
	registry["wasapi"] = func(o Options) audio.Backend { return wasapi.New(o.Logger) }
}
