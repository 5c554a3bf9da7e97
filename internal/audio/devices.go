package audio

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultDeviceName labels index 0 and the fallback placeholder.
const DefaultDeviceName = "Default"

// Enumerator turns a backend's raw endpoint list into indexed devices.
type Enumerator struct {
	backend Backend
	log     zerolog.Logger
}

// NewEnumerator creates an enumerator over backend.
func NewEnumerator(backend Backend, log zerolog.Logger) *Enumerator {
	return &Enumerator{
		backend: backend,
		log:     log.With().Str("component", "enumerator").Logger(),
	}
}

func defaultDevice() Device {
	return Device{Index: 0, Name: DefaultDeviceName, Kind: KindOutputLoopback, Default: true}
}

// Enumerate lists devices: index 0 is the default loopback source, then
// output loopback endpoints, then microphone inputs. Monitor pseudo-sources
// reported as inputs are dropped.
func (e *Enumerator) Enumerate(ctx context.Context) ([]Device, error) {
	raw, err := e.devices(ctx)
	if err != nil {
		return nil, err
	}

	var speakers, mics []Device
	for _, d := range raw {
		switch {
		case d.Kind == KindOutputLoopback:
			speakers = append(speakers, d)
		case d.Kind == KindInput && !IsMonitorSource(d):
			mics = append(mics, d)
		}
	}

	devices := make([]Device, 0, 1+len(speakers)+len(mics))
	devices = append(devices, defaultDevice())
	for _, d := range speakers {
		d.Index = len(devices)
		devices = append(devices, d)
	}
	for _, d := range mics {
		d.Index = len(devices)
		devices = append(devices, d)
	}
	return devices, nil
}

// devices runs the backend listing on a goroutine locked to its own OS
// thread; some stacks bind enumeration handles to the calling thread.
func (e *Enumerator) devices(ctx context.Context) ([]Device, error) {
	type result struct {
		devices []Device
		err     error
	}
	ch := make(chan result, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		devices, err := e.backend.Devices()
		ch <- result{devices, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to enumerate %s devices: %w", e.backend.Name(), r.err)
		}
		return r.devices, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListDevices returns labels for every device. It never returns an empty
// list: on failure the default placeholder is returned and the error logged.
func (e *Enumerator) ListDevices(ctx context.Context) []string {
	return e.list(ctx, func(Device) bool { return true }, true)
}

// ListSpeakerDevices returns the default entry and output loopback endpoints.
func (e *Enumerator) ListSpeakerDevices(ctx context.Context) []string {
	return e.list(ctx, func(d Device) bool { return d.Kind == KindOutputLoopback }, true)
}

// ListMicrophoneDevices returns true inputs only. The list may be empty.
func (e *Enumerator) ListMicrophoneDevices(ctx context.Context) []string {
	return e.list(ctx, func(d Device) bool { return d.Kind == KindInput }, false)
}

func (e *Enumerator) list(ctx context.Context, keep func(Device) bool, withDefault bool) []string {
	devices, err := e.Enumerate(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("Device enumeration failed, using default placeholder")
		if withDefault {
			return []string{defaultDevice().String()}
		}
		return []string{}
	}

	labels := make([]string, 0, len(devices))
	for _, d := range devices {
		if keep(d) {
			labels = append(labels, d.String())
		}
	}
	e.log.Debug().Int("count", len(labels)).Str("backend", e.backend.Name()).Msg("Enumerated devices")
	return labels
}

// Resolve maps a selector ("3", "3: Name (Role)", or "") to a device.
// Empty or unparsable selectors resolve to the default device.
func (e *Enumerator) Resolve(ctx context.Context, selector string) (Device, error) {
	index := ParseSelector(selector)
	if index == 0 {
		return defaultDevice(), nil
	}

	devices, err := e.Enumerate(ctx)
	if err != nil {
		return Device{}, NewError(ErrDeviceUnavailable, "resolve device "+strconv.Quote(selector), err)
	}
	for _, d := range devices {
		if d.Index == index {
			return d, nil
		}
	}
	return Device{}, NewError(ErrDeviceUnavailable, "resolve device "+strconv.Quote(selector),
		fmt.Errorf("no device with index %d", index))
}

// ParseSelector extracts the leading index of a device label.
func ParseSelector(selector string) int {
	head, _, _ := strings.Cut(selector, ":")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// IsMonitorSource reports whether an input endpoint merely mirrors an output.
func IsMonitorSource(d Device) bool {
	if d.Monitor {
		return true
	}
	if strings.HasSuffix(d.ID, ".monitor") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(d.Name), "monitor of ")
}
