// Package capture runs one loopback capture session at a time on a
// dedicated worker and hands accumulated samples to a consumer.
package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/meetscribe/internal/audio"
	"github.com/rs/zerolog"
)

// DefaultPollInterval bounds both read waits and stop latency.
const DefaultPollInterval = 10 * time.Millisecond

// Config holds Controller settings.
type Config struct {
	Backend      audio.Backend
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Controller coordinates capture sessions. The active flag, sample buffer
// and negotiated format are guarded independently so drains never contend
// with the worker's flag checks.
type Controller struct {
	backend audio.Backend
	devices *audio.Enumerator
	poll    time.Duration
	log     zerolog.Logger

	// lifecycle serializes Start and Stop and guards done.
	lifecycle sync.Mutex
	done      chan struct{}

	active atomic.Bool
	buffer *audio.SampleBuffer

	specMu sync.RWMutex
	spec   audio.SampleSpec

	errMu   sync.Mutex
	lastErr error
}

// New creates an idle controller.
func New(cfg Config) *Controller {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	log := cfg.Logger.With().Str("component", "capture").Logger()
	return &Controller{
		backend: cfg.Backend,
		devices: audio.NewEnumerator(cfg.Backend, cfg.Logger),
		poll:    poll,
		log:     log,
		buffer:  audio.NewSampleBuffer(),
		spec:    audio.PlaceholderSpec(),
	}
}

// Devices returns the enumerator for the controller's backend.
func (c *Controller) Devices() *audio.Enumerator {
	return c.devices
}

// Start begins a session on the device named by selector and returns once
// the worker has negotiated the format or failed to. A failed Start leaves
// no capture running and nothing appended.
func (c *Controller) Start(ctx context.Context, selector string) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.active.Load() {
		return audio.ErrAlreadyCapturing
	}
	// A worker that ended on its own may still be releasing.
	if c.done != nil {
		<-c.done
		c.done = nil
	}
	if !c.active.CompareAndSwap(false, true) {
		return audio.ErrAlreadyCapturing
	}

	dev, err := c.devices.Resolve(ctx, selector)
	if err != nil {
		c.active.Store(false)
		return err
	}

	if n := c.buffer.Reset(); n > 0 {
		c.log.Warn().Int("samples", n).Msg("Discarding samples not drained from previous session")
	}
	c.setErr(nil)

	att := &attempt{}
	readyCh := make(chan ready, 1)
	done := make(chan struct{})
	c.done = done
	go c.run(dev, att, readyCh, done)

	select {
	case r := <-readyCh:
		return c.started(dev, r, done)
	case <-ctx.Done():
	}

	att.mu.Lock()
	defer att.mu.Unlock()
	select {
	case r := <-readyCh:
		// the worker committed before we could abandon it
		return c.started(dev, r, done)
	default:
	}
	// The worker releases on its own; the next Start or Stop joins it.
	att.abandoned = true
	c.active.Store(false)
	return ctx.Err()
}

// started reports the outcome the worker signalled.
func (c *Controller) started(dev audio.Device, r ready, done <-chan struct{}) error {
	if r.err != nil {
		<-done
		c.done = nil
		c.log.Error().Err(r.err).Str("device", dev.String()).Msg("Failed to start capture")
		return r.err
	}
	c.log.Info().Str("device", dev.String()).Str("format", r.spec.String()).Str("backend", c.backend.Name()).
		Msg("Capture started")
	return nil
}

// Stop ends the session and waits for the worker to drain and release the
// device. It is a no-op when idle.
func (c *Controller) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.done == nil {
		return nil
	}
	c.active.Store(false)

	select {
	case <-c.done:
		c.done = nil
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AudioBuffer drains everything captured since the last call. It reports
// false when there is nothing new.
func (c *Controller) AudioBuffer() (audio.Buffer, bool) {
	samples := c.buffer.Drain()
	if samples == nil {
		return audio.Buffer{}, false
	}
	return audio.Buffer{Samples: samples, Format: c.Format()}, true
}

// IsCapturing reports whether a session is running.
func (c *Controller) IsCapturing() bool {
	return c.active.Load()
}

// Format returns the negotiated spec of the current or last session, or
// the placeholder before any negotiation.
func (c *Controller) Format() audio.SampleSpec {
	c.specMu.RLock()
	defer c.specMu.RUnlock()
	return c.spec
}

func (c *Controller) setFormat(spec audio.SampleSpec) {
	c.specMu.Lock()
	c.spec = spec
	c.specMu.Unlock()
}

// Err returns the I/O failure that ended the last session, if any.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Controller) setErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}
