package stt

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEventBuffer is the Events channel capacity used by the recognizers
// in this package.
const DefaultEventBuffer = 64

// Emitter delivers events over a buffered channel for Recognizer
// implementations. Final and Error events wait for buffer space; a Partial
// is dropped when the buffer is full since a newer one supersedes it.
// All methods are safe for concurrent use and become no-ops after Close.
type Emitter struct {
	ch      chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Int64
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(size int) *Emitter {
	return &Emitter{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// Events returns the receive side of the event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Partial emits provisional text. Blank text is ignored.
func (e *Emitter) Partial(text string) {
	if text = strings.TrimSpace(text); text != "" {
		e.send(Partial{Text: text, Timestamp: time.Now()}, false)
	}
}

// Final emits authoritative text, waiting for buffer space. Blank text is ignored.
func (e *Emitter) Final(text string) {
	if text = strings.TrimSpace(text); text != "" {
		e.send(Final{Text: text, Timestamp: time.Now()}, true)
	}
}

// Fail emits an Error event for err.
func (e *Emitter) Fail(err error) {
	if err != nil {
		e.send(Error{Message: err.Error()}, true)
	}
}

// Dropped returns how many partials were discarded because the buffer was full.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close unblocks pending senders and closes the event channel.
func (e *Emitter) Close() {
	e.once.Do(func() {
		close(e.done)
		e.mu.Lock()
		e.closed = true
		close(e.ch)
		e.mu.Unlock()
	})
}

func (e *Emitter) send(ev Event, wait bool) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return false
	}
	if !wait {
		select {
		case e.ch <- ev:
			return true
		default:
			e.dropped.Add(1)
			return false
		}
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.done:
		return false
	}
}
