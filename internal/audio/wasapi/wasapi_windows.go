//go:build windows

package wasapi

import (
	"errors"
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/petems/meetscribe/internal/audio"
	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"
)

var (
	clsidMMDeviceEnumerator = ole.NewGUID("{BCDE0395-E52F-467C-8E3D-C4579291692E}")
	iidIMMDeviceEnumerator  = ole.NewGUID("{A95664D2-9614-4F35-A746-DE8DB63617E6}")
	iidIAudioClient         = ole.NewGUID("{1CB9AD4C-DBFA-4C32-B178-C2F568A703B2}")
	iidIAudioCaptureClient  = ole.NewGUID("{C8ADBD64-E71E-48A0-A4DE-185C395CD317}")
)

const (
	eRender  = 0
	eCapture = 1
	eConsole = 0

	deviceStateActive = 0x1

	audclntShareModeShared = 0
	audclntStreamLoopback  = 0x00020000
	audclntBufferSilent    = 0x2

	audclntEDeviceInvalidated = 0x88890004

	// 200ms in 100-ns units
	bufferDuration = 200 * 10000

	// IUnknown occupies slots 0-2
	enumEnumAudioEndpoints      = 3
	enumGetDefaultAudioEndpoint = 4
	enumGetDevice               = 5
	collectionGetCount          = 3
	collectionItem              = 4
	deviceActivate              = 3
	deviceGetID                 = 5
	clientInitialize            = 3
	clientGetMixFormat          = 8
	clientStart                 = 10
	clientStop                  = 11
	clientGetService            = 14
	captureGetBuffer            = 3
	captureReleaseBuffer        = 4
	captureGetNextPacketSize    = 5
)

func comCall(obj uintptr, idx int, args ...uintptr) error {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
	hr, _, _ := syscall.SyscallN(fn, append([]uintptr{obj}, args...)...)
	if int32(hr) < 0 {
		return ole.NewError(hr)
	}
	return nil
}

func comRelease(obj uintptr) {
	if obj == 0 {
		return
	}
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + 2*unsafe.Sizeof(uintptr(0))))
	syscall.SyscallN(fn, obj)
}

// coInit joins the multithreaded apartment. S_FALSE means this thread was
// already initialized and still needs a matching CoUninitialize.
func coInit() error {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		if errors.As(err, &oleErr) && oleErr.Code() == 1 {
			return nil
		}
		return audio.NewError(audio.ErrSubsystemInit, "initialize COM", err)
	}
	return nil
}

func newEnumerator() (uintptr, error) {
	unk, err := ole.CreateInstance(clsidMMDeviceEnumerator, iidIMMDeviceEnumerator)
	if err != nil {
		return 0, audio.NewError(audio.ErrSubsystemInit, "create MMDeviceEnumerator", err)
	}
	return uintptr(unsafe.Pointer(unk)), nil
}

func deviceID(device uintptr) (string, error) {
	var p *uint16
	if err := comCall(device, deviceGetID, uintptr(unsafe.Pointer(&p))); err != nil {
		return "", err
	}
	defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(p)))
	return windows.UTF16PtrToString(p), nil
}

func dataFlow(kind audio.DeviceKind) uintptr {
	if kind == audio.KindInput {
		return eCapture
	}
	return eRender
}

// Backend opens WASAPI endpoints.
type Backend struct {
	log zerolog.Logger
}

// New creates a WASAPI backend.
func New(log zerolog.Logger) *Backend {
	return &Backend{log: log.With().Str("backend", "wasapi").Logger()}
}

func (b *Backend) Name() string { return "wasapi" }

// Devices lists active render endpoints (recorded in loopback) and active
// capture endpoints. Names are the endpoint IDs; friendly names live in the
// property store and are not resolved.
func (b *Backend) Devices() ([]audio.Device, error) {
	if err := coInit(); err != nil {
		return nil, err
	}
	defer ole.CoUninitialize()

	enumerator, err := newEnumerator()
	if err != nil {
		return nil, err
	}
	defer comRelease(enumerator)

	var devices []audio.Device
	for _, kind := range []audio.DeviceKind{audio.KindOutputLoopback, audio.KindInput} {
		found, err := b.endpoints(enumerator, kind)
		if err != nil {
			return nil, err
		}
		devices = append(devices, found...)
	}
	return devices, nil
}

func (b *Backend) endpoints(enumerator uintptr, kind audio.DeviceKind) ([]audio.Device, error) {
	defaultID := ""
	var def uintptr
	if err := comCall(enumerator, enumGetDefaultAudioEndpoint, dataFlow(kind), eConsole, uintptr(unsafe.Pointer(&def))); err == nil {
		defaultID, _ = deviceID(def)
		comRelease(def)
	}

	var collection uintptr
	if err := comCall(enumerator, enumEnumAudioEndpoints, dataFlow(kind), deviceStateActive, uintptr(unsafe.Pointer(&collection))); err != nil {
		return nil, fmt.Errorf("failed to enumerate %s endpoints: %w", kind, err)
	}
	defer comRelease(collection)

	var count uint32
	if err := comCall(collection, collectionGetCount, uintptr(unsafe.Pointer(&count))); err != nil {
		return nil, fmt.Errorf("failed to count %s endpoints: %w", kind, err)
	}

	devices := make([]audio.Device, 0, count)
	for i := uint32(0); i < count; i++ {
		var device uintptr
		if err := comCall(collection, collectionItem, uintptr(i), uintptr(unsafe.Pointer(&device))); err != nil {
			b.log.Warn().Err(err).Uint32("item", i).Msg("Skipping endpoint")
			continue
		}
		id, err := deviceID(device)
		comRelease(device)
		if err != nil {
			b.log.Warn().Err(err).Uint32("item", i).Msg("Skipping endpoint without ID")
			continue
		}
		devices = append(devices, audio.Device{
			ID:      id,
			Name:    id,
			Kind:    kind,
			Default: id == defaultID,
		})
	}
	return devices, nil
}

// Open must be called on the goroutine that will use and close the stream.
func (b *Backend) Open(dev audio.Device) (audio.Stream, error) {
	if err := coInit(); err != nil {
		return nil, err
	}

	s := &stream{kind: dev.Kind, log: b.log}
	if err := s.acquire(dev); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

type stream struct {
	kind audio.DeviceKind
	log  zerolog.Logger

	enumerator    uintptr
	device        uintptr
	client        uintptr
	captureClient uintptr
	mix           []byte
	blockAlign    int
	started       bool
}

func (s *stream) acquire(dev audio.Device) error {
	var err error
	if s.enumerator, err = newEnumerator(); err != nil {
		return err
	}

	if dev.ID == "" {
		err = comCall(s.enumerator, enumGetDefaultAudioEndpoint, dataFlow(dev.Kind), eConsole, uintptr(unsafe.Pointer(&s.device)))
	} else {
		var id *uint16
		if id, err = windows.UTF16PtrFromString(dev.ID); err == nil {
			err = comCall(s.enumerator, enumGetDevice, uintptr(unsafe.Pointer(id)), uintptr(unsafe.Pointer(&s.device)))
		}
	}
	if err != nil {
		return audio.NewError(audio.ErrDeviceUnavailable, "get audio endpoint", err)
	}

	if err := comCall(s.device, deviceActivate, uintptr(unsafe.Pointer(iidIAudioClient)), uintptr(ole.CLSCTX_ALL), 0, uintptr(unsafe.Pointer(&s.client))); err != nil {
		return audio.NewError(audio.ErrDeviceUnavailable, "activate IAudioClient", err)
	}

	var mixPtr uintptr
	if err := comCall(s.client, clientGetMixFormat, uintptr(unsafe.Pointer(&mixPtr))); err != nil {
		return audio.NewError(audio.ErrFormatNegotiation, "get mix format", err)
	}
	defer ole.CoTaskMemFree(mixPtr)

	size := waveFormatExSize
	if cb := *(*uint16)(unsafe.Pointer(mixPtr + 16)); cb > 0 {
		size += int(cb)
	}
	s.mix = make([]byte, size)
	copy(s.mix, unsafe.Slice((*byte)(unsafe.Pointer(mixPtr)), size))
	return nil
}

func (s *stream) Format() (audio.SampleSpec, error) {
	f, err := parseMixFormat(s.mix)
	if err != nil {
		return audio.SampleSpec{}, audio.NewError(audio.ErrFormatNegotiation, "parse mix format", err)
	}
	spec, err := f.Spec()
	if err != nil {
		return audio.SampleSpec{}, audio.NewError(audio.ErrFormatNegotiation, "negotiate mix format", err)
	}
	s.blockAlign = spec.FrameSize()
	s.log.Info().Uint16("tag", f.Tag).Uint16("bits", f.BitsPerSample).Uint16("valid_bits", f.ValidBits).
		Str("spec", spec.String()).Msg("WASAPI mix format")
	return spec, nil
}

func (s *stream) Start() error {
	if s.blockAlign == 0 {
		if _, err := s.Format(); err != nil {
			return err
		}
	}

	flags := uintptr(0)
	if s.kind == audio.KindOutputLoopback {
		flags = audclntStreamLoopback
	}
	if err := comCall(s.client, clientInitialize, audclntShareModeShared, flags, bufferDuration, 0,
		uintptr(unsafe.Pointer(&s.mix[0])), 0); err != nil {
		return audio.NewError(audio.ErrDeviceUnavailable, "initialize audio client", err)
	}
	if err := comCall(s.client, clientGetService, uintptr(unsafe.Pointer(iidIAudioCaptureClient)), uintptr(unsafe.Pointer(&s.captureClient))); err != nil {
		return audio.NewError(audio.ErrDeviceUnavailable, "get IAudioCaptureClient", err)
	}
	if err := comCall(s.client, clientStart); err != nil {
		return audio.NewError(audio.ErrIO, "start audio client", err)
	}
	s.started = true
	return nil
}

// pollInterval bounds the sleep between empty packet checks.
const pollInterval = 5 * time.Millisecond

func (s *stream) Read(wait time.Duration) (audio.Chunk, error) {
	deadline := time.Now().Add(wait)
	for {
		var packet uint32
		if err := comCall(s.captureClient, captureGetNextPacketSize, uintptr(unsafe.Pointer(&packet))); err != nil {
			return audio.Chunk{}, ioError("get next packet size", err)
		}
		if packet > 0 {
			return s.readPacket()
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return audio.Chunk{}, nil
		}
		time.Sleep(min(remaining, pollInterval))
	}
}

func (s *stream) readPacket() (audio.Chunk, error) {
	var data uintptr
	var frames, flags uint32
	if err := comCall(s.captureClient, captureGetBuffer,
		uintptr(unsafe.Pointer(&data)), uintptr(unsafe.Pointer(&frames)), uintptr(unsafe.Pointer(&flags)), 0, 0); err != nil {
		return audio.Chunk{}, ioError("get capture buffer", err)
	}

	chunk := audio.Chunk{Silent: flags&audclntBufferSilent != 0}
	if !chunk.Silent && data != 0 && frames > 0 {
		n := int(frames) * s.blockAlign
		chunk.Data = make([]byte, n)
		copy(chunk.Data, unsafe.Slice((*byte)(unsafe.Pointer(data)), n))
	}

	if err := comCall(s.captureClient, captureReleaseBuffer, uintptr(frames)); err != nil {
		return audio.Chunk{}, ioError("release capture buffer", err)
	}
	return chunk, nil
}

func ioError(op string, err error) error {
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) && uint32(oleErr.Code()) == audclntEDeviceInvalidated {
		return audio.NewError(audio.ErrDeviceUnavailable, op, fmt.Errorf("device invalidated: %w", err))
	}
	return audio.NewError(audio.ErrIO, op, err)
}

func (s *stream) Close() error {
	var stopErr error
	if s.started {
		if err := comCall(s.client, clientStop); err != nil {
			stopErr = audio.NewError(audio.ErrIO, "stop audio client", err)
		}
	}
	s.release()
	return stopErr
}

// release frees every COM object acquired so far and leaves the apartment.
func (s *stream) release() {
	comRelease(s.captureClient)
	comRelease(s.client)
	comRelease(s.device)
	comRelease(s.enumerator)
	s.captureClient, s.client, s.device, s.enumerator = 0, 0, 0, 0
	ole.CoUninitialize()
}
