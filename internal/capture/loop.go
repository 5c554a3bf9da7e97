package capture

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/petems/meetscribe/internal/audio"
)

// maxDrainReads bounds the stop-time drain against a source that never
// runs dry.
const maxDrainReads = 1000

// ready is the one-shot result of acquisition and negotiation.
type ready struct {
	spec audio.SampleSpec
	err  error
}

var errAbandoned = errors.New("start abandoned")

// attempt is shared by Start and the worker until the ready signal is
// sent. Once Start gives up, the worker must not start the device or touch
// the format and buffer.
type attempt struct {
	mu        sync.Mutex
	abandoned bool
}

func (a *attempt) live() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.abandoned
}

// run is the capture worker. It owns the stream from Open to Close and is
// the only writer to the sample buffer.
func (c *Controller) run(dev audio.Device, att *attempt, readyCh chan<- ready, done chan<- struct{}) {
	defer close(done)

	// Some stacks tie handles to the thread that created them.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stream, spec, err := c.acquire(dev, att)
	if err != nil {
		c.active.Store(false)
		readyCh <- ready{err: err}
		return
	}

	att.mu.Lock()
	if att.abandoned {
		att.mu.Unlock()
		c.release(stream)
		c.log.Debug().Msg("Released device after abandoned start")
		return
	}
	c.setFormat(spec)
	readyCh <- ready{spec: spec}
	att.mu.Unlock()

	err = c.pump(stream, spec)

	if closeErr := stream.Close(); closeErr != nil {
		c.log.Warn().Err(closeErr).Msg("Failed to release capture stream")
	}
	if err != nil {
		c.setErr(err)
		c.log.Error().Err(err).Msg("Capture stopped on I/O failure")
	} else {
		c.log.Info().Msg("Capture stopped")
	}
	c.active.Store(false)
}

// acquire opens the device, negotiates its format and starts delivery. On
// failure everything acquired so far is released.
func (c *Controller) acquire(dev audio.Device, att *attempt) (audio.Stream, audio.SampleSpec, error) {
	stream, err := c.backend.Open(dev)
	if err != nil {
		return nil, audio.SampleSpec{}, classify(audio.ErrDeviceUnavailable, "open "+dev.Name, err)
	}

	spec, err := stream.Format()
	if err == nil {
		err = spec.Validate()
	}
	if err != nil {
		c.release(stream)
		return nil, audio.SampleSpec{}, classify(audio.ErrFormatNegotiation, "negotiate format", err)
	}

	if !att.live() {
		c.release(stream)
		return nil, audio.SampleSpec{}, errAbandoned
	}
	if err := stream.Start(); err != nil {
		c.release(stream)
		return nil, audio.SampleSpec{}, classify(audio.ErrIO, "start capture", err)
	}
	return stream, spec, nil
}

func (c *Controller) release(stream audio.Stream) {
	if err := stream.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to release capture stream after failed start")
	}
}

// classify keeps a backend's own error kind and otherwise tags err with kind.
func classify(kind error, op string, err error) error {
	var ce *audio.CaptureError
	if errors.As(err, &ce) {
		return err
	}
	return audio.NewError(kind, op, err)
}

// pump reads until the active flag is cleared, then drains what the OS
// still holds. A read error ends the session.
func (c *Controller) pump(stream audio.Stream, spec audio.SampleSpec) error {
	dec := audio.NewFrameDecoder(spec.Encoding)
	var silent int

	for c.active.Load() {
		started := time.Now()
		chunk, err := stream.Read(c.poll)
		if err != nil {
			return classify(audio.ErrIO, "read capture stream", err)
		}
		if chunk.Silent {
			silent++
			continue
		}
		if len(chunk.Data) == 0 {
			// never spin on a source that returns early
			if elapsed := time.Since(started); elapsed < c.poll/2 {
				time.Sleep(c.poll - elapsed)
			}
			continue
		}
		c.consume(dec, chunk)
	}

	c.drain(stream, dec)
	if silent > 0 {
		c.log.Debug().Int("packets", silent).Msg("Skipped silent packets")
	}
	if n := dec.Pending(); n > 0 {
		c.log.Debug().Int("bytes", n).Msg("Discarding partial sample at stop")
	}
	return nil
}

func (c *Controller) consume(dec *audio.FrameDecoder, chunk audio.Chunk) {
	samples, err := dec.Decode(chunk.Data)
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(chunk.Data)).Msg("Dropping undecodable chunk")
		return
	}
	c.buffer.Append(samples)
}

// drain collects frames still buffered by the OS. Failures are logged and
// never block shutdown.
func (c *Controller) drain(stream audio.Stream, dec *audio.FrameDecoder) {
	for i := 0; i < maxDrainReads; i++ {
		chunk, err := stream.Read(0)
		if err != nil {
			c.log.Warn().Err(err).Msg("Drain failed")
			return
		}
		if chunk.Silent {
			continue
		}
		if len(chunk.Data) == 0 {
			return
		}
		c.consume(dec, chunk)
	}
	c.log.Warn().Int("reads", maxDrainReads).Msg("Drain did not run dry")
}
