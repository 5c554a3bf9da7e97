package capture

import (
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/petems/meetscribe/internal/audio"
)

// MockBackend mocks audio.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Devices() ([]audio.Device, error) {
	args := m.Called()
	devices, _ := args.Get(0).([]audio.Device)
	return devices, args.Error(1)
}

func (m *MockBackend) Open(dev audio.Device) (audio.Stream, error) {
	args := m.Called(dev)
	stream, _ := args.Get(0).(audio.Stream)
	return stream, args.Error(1)
}

// scriptedStream replays chunks in order, then returns readErr if set or
// waits out each read. Pending chunks are only handed out to zero-wait
// reads, like frames still buffered by the OS at stop.
type scriptedStream struct {
	mu        sync.Mutex
	spec      audio.SampleSpec
	formatErr error
	startErr  error
	chunks    []audio.Chunk
	pending   []audio.Chunk
	readErr   error
	closeErr  error

	started int
	closed  int
	reads   int
}

func (s *scriptedStream) Format() (audio.SampleSpec, error) {
	return s.spec, s.formatErr
}

func (s *scriptedStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return s.startErr
}

func (s *scriptedStream) Read(wait time.Duration) (audio.Chunk, error) {
	s.mu.Lock()
	s.reads++
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return c, nil
	}
	if s.readErr != nil {
		err := s.readErr
		s.mu.Unlock()
		return audio.Chunk{}, err
	}
	if wait == 0 && len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	time.Sleep(wait)
	return audio.Chunk{}, nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

func (s *scriptedStream) counts() (started, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.closed
}

func (s *scriptedStream) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func pcm16(values ...int16) []byte {
	b := make([]byte, 0, 2*len(values))
	for _, v := range values {
		b = append(b, byte(v), byte(uint16(v)>>8))
	}
	return b
}
