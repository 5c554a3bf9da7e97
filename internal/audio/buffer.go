package audio

import "sync"

// SampleBuffer is the growable sample store shared between the capture
// worker (sole writer) and the consumer (sole reader). Its lock is
// independent of the session's active flag.
type SampleBuffer struct {
	mu      sync.Mutex
	samples []float32
}

// NewSampleBuffer creates an empty buffer.
func NewSampleBuffer() *SampleBuffer {
	return &SampleBuffer{}
}

// Append adds samples in order.
func (b *SampleBuffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, samples...)
	b.mu.Unlock()
}

// Drain removes and returns everything appended so far, or nil when the
// buffer is empty.
func (b *SampleBuffer) Drain() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 {
		return nil
	}
	out := b.samples
	b.samples = nil
	return out
}

// Len returns the number of undrained samples.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Reset drops undrained samples and reports how many were discarded.
func (b *SampleBuffer) Reset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.samples)
	b.samples = nil
	return n
}
