package audio

import "time"

// Backend is one platform audio stack. Implementations own every OS handle
// they create and release it on all exit paths.
type Backend interface {
	// Name identifies the backend in logs and config.
	Name() string
	// Devices lists raw endpoints. Index is assigned by the Enumerator.
	Devices() ([]Device, error)
	// Open acquires a capture handle for dev. An empty dev.ID selects the
	// system default for dev.Kind.
	Open(dev Device) (Stream, error)
}

// Stream is an acquired capture handle. It is used from a single goroutine.
type Stream interface {
	// Format negotiates the spec the stream will actually produce.
	Format() (SampleSpec, error)
	// Start begins delivery of frames.
	Start() error
	// Read returns the next chunk, waiting at most wait. A zero-length chunk
	// with a nil error means nothing was pending.
	Read(wait time.Duration) (Chunk, error)
	// Close releases the handle and any subsystem resources.
	Close() error
}

// Chunk is one run of raw interleaved bytes in the negotiated encoding.
type Chunk struct {
	Data []byte
	// Silent is set when the OS flags the packet as silence.
	Silent bool
}
