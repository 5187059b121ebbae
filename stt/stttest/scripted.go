// Package stttest provides a deterministic stt.Recognizer for tests.
package stttest

import (
	"context"
	"strings"
	"sync"

	"go.aimuz.me/autocap/stt"
)

// Config scripts a Scripted recognizer.
type Config struct {
	// FinalEvery emits the next script line as a Final every N frames.
	FinalEvery int
	// PartialEvery emits a growing prefix of the next line every N frames.
	PartialEvery int
	// Script holds the final texts, used in order and then repeated.
	Script []string
	// Buffer is the Events capacity, default stt.DefaultEventBuffer.
	Buffer int
	// NotReady makes IsInitialized report false.
	NotReady bool
}

// Scripted emits events on a fixed frame schedule.
type Scripted struct {
	cfg     Config
	emitter *stt.Emitter

	mu       sync.Mutex
	frames   int
	line     int // index of the next final
	words    int // words of the next final already sent as partials
	finished int
}

// New creates a Scripted recognizer.
func New(cfg Config) *Scripted {
	if cfg.Buffer == 0 {
		cfg.Buffer = stt.DefaultEventBuffer
	}
	if len(cfg.Script) == 0 {
		cfg.Script = []string{"hello world"}
	}
	return &Scripted{cfg: cfg, emitter: stt.NewEmitter(cfg.Buffer)}
}

// AcceptWaveform counts the frame and emits whatever the schedule says.
func (s *Scripted) AcceptWaveform(_ []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	if s.cfg.FinalEvery > 0 && s.frames%s.cfg.FinalEvery == 0 {
		s.emitter.Final(s.nextLocked())
		return true
	}
	if s.cfg.PartialEvery > 0 && s.frames%s.cfg.PartialEvery == 0 {
		fields := strings.Fields(s.cfg.Script[s.line%len(s.cfg.Script)])
		if s.words < len(fields) {
			s.words++
		}
		s.emitter.Partial(strings.Join(fields[:s.words], " "))
	}
	return false
}

func (s *Scripted) nextLocked() string {
	text := s.cfg.Script[s.line%len(s.cfg.Script)]
	s.line++
	s.words = 0
	return text
}

// Finish emits the line in progress as a Final if any partial was sent.
func (s *Scripted) Finish(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished++
	if s.words > 0 {
		s.emitter.Final(s.nextLocked())
	}
	return nil
}

// Push emits ev directly. Final and Error wait for buffer space.
func (s *Scripted) Push(ev stt.Event) {
	switch e := ev.(type) {
	case stt.Partial:
		s.emitter.Partial(e.Text)
	case stt.Final:
		s.emitter.Final(e.Text)
	case stt.Error:
		s.emitter.Fail(e)
	}
}

// Frames returns how many frames were accepted.
func (s *Scripted) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Finished returns how many times Finish was called.
func (s *Scripted) Finished() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Dropped returns the partials discarded on a full buffer.
func (s *Scripted) Dropped() int64 { return s.emitter.Dropped() }

func (s *Scripted) Events() <-chan stt.Event { return s.emitter.Events() }
func (s *Scripted) IsInitialized() bool      { return !s.cfg.NotReady }

func (s *Scripted) Close() error {
	s.emitter.Close()
	return nil
}
