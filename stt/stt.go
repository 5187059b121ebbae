// Package stt provides speech recognizers that turn PCM audio into partial
// and final text events.
package stt

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrNotReady is returned when a recognizer or transcriber is missing
	// credentials, a model or a binary.
	ErrNotReady = errors.New("recognizer not ready")
	// ErrClosed is returned by operations on a closed recognizer.
	ErrClosed = errors.New("recognizer closed")
)

// Event is a recognition result. The concrete type is Partial, Final or Error.
type Event interface {
	isEvent()
}

// Partial is provisional text for the utterance in progress. A later Partial
// or Final supersedes it.
type Partial struct {
	Text      string
	Timestamp time.Time
}

// Final is authoritative text. Each Final is delivered once, in order.
type Final struct {
	Text      string
	Timestamp time.Time
}

// Error reports a recognition failure. Recognition may continue afterwards.
type Error struct {
	Message string
}

func (Partial) isEvent() {}
func (Final) isEvent()   {}
func (Error) isEvent()   {}

func (e Error) Error() string { return e.Message }

// Recognizer consumes 16-bit mono PCM and emits events asynchronously.
type Recognizer interface {
	// AcceptWaveform hands over one frame. It reports true when the frame
	// completed an utterance and a Final is on its way.
	AcceptWaveform(pcm []byte) bool
	// Events returns the event stream. It is closed by Close.
	Events() <-chan Event
	IsInitialized() bool
	Close() error
}

// Finisher is implemented by recognizers that hold audio back. Finish asks
// for a Final covering everything accepted so far and returns once the
// resulting events are queued on Events or ctx is done.
type Finisher interface {
	Finish(ctx context.Context) error
}

// FinishTimeouter is implemented by recognizers that know how long Finish
// may take to deliver everything.
type FinishTimeouter interface {
	FinishTimeout() time.Duration
}

// TranscribeResult represents the result of a transcription.
type TranscribeResult struct {
	Text       string    `json:"text"`       // Transcribed text
	Language   string    `json:"language"`   // Detected language code
	Confidence float64   `json:"confidence"` // Recognition confidence 0-1
	Segments   []Segment `json:"segments"`   // Time-stamped segments
}

// Segment represents a time-stamped audio segment.
type Segment struct {
	Text  string        `json:"text"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Transcriber converts a complete chunk of audio to text in one call.
// Chunked adapts a Transcriber into a streaming Recognizer.
type Transcriber interface {
	// Name returns the provider identifier.
	Name() string

	// DisplayName returns the human-readable provider name.
	DisplayName() string

	// IsLocal returns true if the provider runs locally without API calls.
	IsLocal() bool

	// IsReady returns true if the provider is ready to use.
	IsReady() bool

	// Transcribe converts mono float32 samples to text.
	// language: source language code (empty for auto-detect)
	Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error)

	// Close releases resources held by the provider.
	Close() error
}

// Registry holds registered transcribers by name.
type Registry struct {
	transcribers map[string]Transcriber
}

// NewRegistry creates a new transcriber registry.
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make(map[string]Transcriber),
	}
}

// Register adds a transcriber, replacing any with the same name.
func (r *Registry) Register(t Transcriber) {
	r.transcribers[t.Name()] = t
}

// Get returns a transcriber by name, or nil.
func (r *Registry) Get(name string) Transcriber {
	return r.transcribers[name]
}

// List returns all registered transcribers sorted by name.
func (r *Registry) List() []Transcriber {
	result := make([]Transcriber, 0, len(r.transcribers))
	for _, t := range r.transcribers {
		result = append(result, t)
	}
	slices.SortFunc(result, func(a, b Transcriber) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return result
}

// Close releases all transcribers and returns the first error.
func (r *Registry) Close() error {
	var first error
	for _, t := range r.transcribers {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
