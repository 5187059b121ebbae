// Package audiocapture provides PCM audio sources for live captioning.
//
// Every source delivers mono 16-bit little-endian PCM in fixed-size frames
// from its own goroutine. Handlers must not block.
package audiocapture

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnsupported is returned when a source is not available in this build.
var ErrUnsupported = errors.New("audio capture not supported on this build")

// ErrAlreadyCapturing is returned when trying to start capture while already capturing.
var ErrAlreadyCapturing = errors.New("already capturing audio")

// Format describes the PCM layout of a source.
type Format struct {
	SampleRate    int `json:"sampleRate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bitsPerSample"`
}

// DefaultFormat is 16 kHz mono 16-bit PCM, what speech recognizers expect.
func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// BlockAlign returns the size in bytes of one sample across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// FrameSize returns the number of bytes covering d, rounded down to a whole sample.
func (f Format) FrameSize(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%f.BlockAlign()
}

// Duration returns the playback time of n bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Frame is one chunk of captured audio. Data is never reused by the source.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// Handler receives frames on the source's goroutine.
type Handler func(Frame)

// Source produces audio frames.
type Source interface {
	// Start begins delivering frames to handler until Stop is called, ctx is
	// cancelled or the input ends.
	Start(ctx context.Context, handler Handler) error
	// Stop stops delivery and waits for the producing goroutine to exit.
	Stop() error
	IsCapturing() bool
	// Description is a human readable label such as a device or file name.
	Description() string
	Format() Format
}

// ErrorNotifier is implemented by sources that can fail after Start.
type ErrorNotifier interface {
	OnError(func(error))
}

// Waiter is implemented by sources whose input keeps while a handler
// blocks, such as files and pipes. Consumers may apply backpressure to them
// instead of dropping frames.
type Waiter interface {
	CanWait() bool
}

// errorHooks fans runtime errors out to registered callbacks.
type errorHooks struct {
	mu  sync.RWMutex
	fns []func(error)
}

func (h *errorHooks) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *errorHooks) notify(err error) {
	h.mu.RLock()
	fns := h.fns
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

// RingBuffer is a thread-safe circular buffer for audio samples.
type RingBuffer struct {
	mu     sync.RWMutex
	data   []float32
	pos    int // next write position
	filled int // samples written, capped at len(data)
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{data: make([]float32, size)}
}

// Write adds samples, overwriting the oldest ones once full.
func (rb *RingBuffer) Write(samples []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.data)
	if size == 0 {
		return
	}
	if len(samples) >= size {
		copy(rb.data, samples[len(samples)-size:])
		rb.pos = 0
		rb.filled = size
		return
	}
	n := copy(rb.data[rb.pos:], samples)
	if n < len(samples) {
		copy(rb.data, samples[n:])
	}
	rb.pos = (rb.pos + len(samples)) % size
	rb.filled = min(rb.filled+len(samples), size)
}

// Read returns the last n samples, oldest first.
func (rb *RingBuffer) Read(n int) []float32 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n = min(n, rb.filled)
	if n <= 0 {
		return nil
	}

	size := len(rb.data)
	start := (rb.pos - n + size) % size
	out := make([]float32, n)
	c := copy(out, rb.data[start:min(start+n, size)])
	copy(out[c:], rb.data[:n-c])
	return out
}

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.pos = 0
	rb.filled = 0
}

// Len returns the number of samples in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.filled
}
