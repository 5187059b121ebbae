// Package livecaption wires an audio source and a speech recognizer to a
// subtitle segmenter and a presentation sink.
package livecaption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/autocap/audiocapture"
	"go.aimuz.me/autocap/internal/types"
	"go.aimuz.me/autocap/langdetect"
	"go.aimuz.me/autocap/session"
	"go.aimuz.me/autocap/stt"
	"go.aimuz.me/autocap/subtitle"
)

const (
	DefaultFrameQueue       = 64
	DefaultStopDrainTimeout = 2 * time.Second
	DefaultStatusBuffer     = 32

	dropLogInterval = 5 * time.Second
)

// ErrClosed is returned by operations on a closed Service.
var ErrClosed = errors.New("live caption service closed")

// Config configures a Service.
type Config struct {
	Source     audiocapture.Source
	Recognizer stt.Recognizer
	Sink       Sink // default NopSink

	Segmenter subtitle.Config
	// RecognizerName is reported by Status.
	RecognizerName string
	// Language is recorded in snapshots. Empty means detect from the text.
	Language string

	FrameQueue       int           // frames buffered for the recognizer, default 64
	StopDrainTimeout time.Duration // wait for trailing results on Stop, default 2s
	StatusBuffer     int           // default 32

	// Backpressure makes the frame hand-off wait for queue space instead of
	// dropping frames. It is set for sources implementing audiocapture.Waiter.
	Backpressure bool

	// Clock overrides time.Now for the segmenter and session epoch.
	Clock func() time.Time
}

// command runs fn on the consumer goroutine. With drain set, events already
// queued by the recognizer are applied first.
type command struct {
	fn    func()
	drain bool
	done  chan struct{}
}

// Service runs a live caption session.
//
// Frames are handed to the recognizer through a bounded queue. Live sources
// never block: a frame that finds the queue full is dropped. Sources that
// can wait, such as files, block until there is room. A single consumer goroutine applies recognition
// events and commands to the segmenter, so segmenter and store mutations
// never race.
type Service struct {
	cfg       Config
	now       func() time.Time
	segmenter *subtitle.Segmenter
	sink      Sink

	lifecycle sync.Mutex // serializes Start, Stop and Close

	mu            sync.RWMutex // guards running and frames
	running       bool
	frames        chan []byte
	stopping      chan struct{} // closed when Stop begins, releases waiting frames
	startedAt     time.Time
	forwarderDone chan struct{}

	forwarded   atomic.Int64
	dropped     atomic.Int64
	lastDropLog atomic.Int64 // unix nanos
	lastPartial atomic.Pointer[string]

	// settled is set once Stop has flushed. Finals applied after that are
	// flushed on arrival. Owned by the consumer goroutine.
	settled bool

	cmds         chan command
	statuses     chan Status
	closed       chan struct{}
	closeOnce    sync.Once
	consumerDone chan struct{}
}

// New creates a Service and starts its consumer goroutine. Close releases
// it. The source and recognizer stay owned by the caller.
func New(cfg Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.New("live caption: audio source is required")
	}
	if cfg.Recognizer == nil {
		return nil, errors.New("live caption: recognizer is required")
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = DefaultFrameQueue
	}
	if cfg.StopDrainTimeout <= 0 {
		cfg.StopDrainTimeout = DefaultStopDrainTimeout
	}
	if cfg.StatusBuffer <= 0 {
		cfg.StatusBuffer = DefaultStatusBuffer
	}
	if w, ok := cfg.Source.(audiocapture.Waiter); ok && w.CanWait() {
		cfg.Backpressure = true
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	s := &Service{
		cfg:          cfg,
		now:          now,
		segmenter:    subtitle.NewSegmenter(cfg.Segmenter, subtitle.WithClock(now)),
		sink:         cfg.Sink,
		cmds:         make(chan command),
		statuses:     make(chan Status, cfg.StatusBuffer),
		closed:       make(chan struct{}),
		consumerDone: make(chan struct{}),
	}
	s.segmenter.OnPartial(s.sink.ShowLiveText)
	s.segmenter.OnLine(s.sink.ShowCompletedLine)

	if n, ok := cfg.Source.(audiocapture.ErrorNotifier); ok {
		n.OnError(func(err error) {
			s.publish("audio source failed", fmt.Errorf("audio source: %w", err))
		})
	}

	go s.consume()
	return s, nil
}

// Start clears the previous session, sets the session epoch and begins
// capturing. Starting a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.isRunning() {
		s.publish("already capturing", nil)
		return nil
	}
	if !s.cfg.Recognizer.IsInitialized() {
		err := fmt.Errorf("start recognizer: %w", stt.ErrNotReady)
		s.publish("recognizer is not ready", err)
		return err
	}

	epoch := s.now()
	if err := s.do(false, func() {
		s.segmenter.Clear()
		s.segmenter.SetEpoch(epoch)
		s.setLastPartial("")
		s.settled = false
	}); err != nil {
		return err
	}
	s.forwarded.Store(0)
	s.dropped.Store(0)

	frames := make(chan []byte, s.cfg.FrameQueue)
	forwarderDone := make(chan struct{})
	go s.forward(frames, forwarderDone)

	s.mu.Lock()
	s.frames = frames
	s.stopping = make(chan struct{})
	s.running = true
	s.startedAt = epoch
	s.forwarderDone = forwarderDone
	s.mu.Unlock()

	if err := s.cfg.Source.Start(ctx, s.handleFrame); err != nil {
		s.mu.Lock()
		s.running = false
		s.frames = nil
		s.mu.Unlock()
		close(frames)
		<-forwarderDone

		err = fmt.Errorf("start audio source: %w", err)
		s.publish("could not start capture", err)
		return err
	}

	slog.Info("live caption started",
		"source", s.cfg.Source.Description(),
		"recognizer", s.cfg.RecognizerName,
		"format", s.cfg.Source.Format())
	s.publish("capturing from "+s.cfg.Source.Description(), nil)
	return nil
}

// Stop stops the source, waits for the recognizer to deliver results for
// audio already handed over, flushes the line in progress and hides the
// sink. The wait is bounded by StopDrainTimeout, or by the recognizer's
// FinishTimeout when that is longer. Stopping a stopped service is a no-op.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout())
	defer cancel()
	return s.StopContext(ctx)
}

// StopContext is like Stop but waits for trailing results until ctx is done.
// Finals that arrive after that still become lines.
func (s *Service) StopContext(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.isRunning() {
		s.publish("not capturing", nil)
		return nil
	}
	return s.stopLocked(ctx)
}

func (s *Service) drainTimeout() time.Duration {
	d := s.cfg.StopDrainTimeout
	if f, ok := s.cfg.Recognizer.(stt.FinishTimeouter); ok {
		d = max(d, f.FinishTimeout())
	}
	return d
}

func (s *Service) stopLocked(ctx context.Context) error {
	s.mu.RLock()
	stopping := s.stopping
	s.mu.RUnlock()
	close(stopping)

	var errs []error
	if err := s.cfg.Source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop audio source: %w", err))
	}

	s.mu.Lock()
	s.running = false
	frames, forwarderDone := s.frames, s.forwarderDone
	s.frames = nil
	s.mu.Unlock()

	close(frames)
	<-forwarderDone

	if f, ok := s.cfg.Recognizer.(stt.Finisher); ok {
		if err := f.Finish(ctx); err != nil {
			slog.Warn("recognizer did not finish", "error", err)
		}
	}

	if err := s.do(true, func() {
		s.segmenter.Flush()
		s.setLastPartial("")
		s.settled = true
	}); err != nil {
		errs = append(errs, err)
	}
	s.sink.Hide()

	lines := s.segmenter.Store().Len()
	slog.Info("live caption stopped",
		"lines", lines,
		"frames_forwarded", s.forwarded.Load(),
		"frames_dropped", s.dropped.Load())
	s.publish(fmt.Sprintf("stopped with %d lines", lines), nil)
	return errors.Join(errs...)
}

// Close stops capture if needed and ends the consumer goroutine.
func (s *Service) Close() error {
	s.lifecycle.Lock()
	var err error
	if s.isRunning() {
		ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout())
		err = s.stopLocked(ctx)
		cancel()
	}
	s.closeOnce.Do(func() { close(s.closed) })
	s.lifecycle.Unlock()

	<-s.consumerDone
	return err
}

// Flush completes the line in progress.
func (s *Service) Flush() error {
	return s.do(true, s.segmenter.Flush)
}

// Clear discards all lines and the line in progress.
func (s *Service) Clear() error {
	return s.do(false, func() {
		s.segmenter.Clear()
		s.setLastPartial("")
	})
}

// Lines returns a copy of the completed lines.
func (s *Service) Lines() []subtitle.Line {
	return s.segmenter.Store().Lines()
}

// ExportSRT renders the completed lines as SRT.
func (s *Service) ExportSRT() string {
	return s.segmenter.Store().ExportSRT()
}

// ExportVTT renders the completed lines as WebVTT.
func (s *Service) ExportVTT() string {
	return s.segmenter.Store().ExportVTT()
}

// Export renders the completed lines in format.
func (s *Service) Export(format subtitle.Format) (string, error) {
	return s.segmenter.Store().Export(format)
}

// Statuses returns human-readable status messages. Messages are dropped
// when nobody reads them.
func (s *Service) Statuses() <-chan Status {
	return s.statuses
}

// Status returns a snapshot of the session state.
func (s *Service) Status() types.CaptionStatus {
	s.mu.RLock()
	running, started := s.running, s.startedAt
	s.mu.RUnlock()

	var duration int64
	if running {
		duration = int64(s.now().Sub(started).Seconds())
	}
	var partial string
	if p := s.lastPartial.Load(); p != nil {
		partial = *p
	}

	return types.CaptionStatus{
		Active:          running,
		Source:          s.cfg.Source.Description(),
		Recognizer:      s.cfg.RecognizerName,
		Duration:        duration,
		LineCount:       s.segmenter.Store().Len(),
		FramesForwarded: s.forwarded.Load(),
		FramesDropped:   s.dropped.Load(),
		LastPartial:     partial,
	}
}

// Snapshot builds a session record of the completed lines. A blank title
// gets the default session title.
func (s *Service) Snapshot(title string) session.Record {
	lines := s.Lines()

	lang := s.cfg.Language
	if lang == "" {
		texts := make([]string, len(lines))
		for i, l := range lines {
			texts[i] = l.Text
		}
		if code, ok := langdetect.Detect(strings.Join(texts, " ")); ok {
			lang = code
		}
	}

	s.mu.RLock()
	created := s.startedAt
	s.mu.RUnlock()
	if created.IsZero() {
		created = s.now()
	}

	return session.NewRecord(title, created, subtitle.EncodeSRT(lines),
		s.cfg.Source.Description(), len(lines), lang)
}

func (s *Service) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// handleFrame is the source callback. Without backpressure it never
// blocks; with it, it waits for queue space until Stop begins.
func (s *Service) handleFrame(f audiocapture.Frame) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return
	}
	if s.cfg.Backpressure {
		select {
		case s.frames <- f.Data:
		case <-s.stopping:
			s.drop()
		}
		return
	}
	select {
	case s.frames <- f.Data:
	default:
		s.drop()
	}
}

func (s *Service) drop() {
	n := s.dropped.Add(1)
	now := time.Now().UnixNano()
	last := s.lastDropLog.Load()
	if now-last >= int64(dropLogInterval) && s.lastDropLog.CompareAndSwap(last, now) {
		slog.Warn("recognizer falling behind, dropping audio frames", "dropped", n)
	}
}

func (s *Service) forward(frames <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for data := range frames {
		s.cfg.Recognizer.AcceptWaveform(data)
		s.forwarded.Add(1)
	}
}

// do runs fn on the consumer goroutine and waits for it.
func (s *Service) do(drain bool, fn func()) error {
	cmd := command{fn: fn, drain: drain, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-s.closed:
		return ErrClosed
	}
	<-cmd.done
	return nil
}

func (s *Service) consume() {
	defer close(s.consumerDone)

	events := s.cfg.Recognizer.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				slog.Debug("recognizer event stream closed")
				events = nil
				continue
			}
			if !s.apply(ev, events) {
				events = nil
			}
		case cmd := <-s.cmds:
			if cmd.drain && events != nil {
				events = s.drain(events)
			}
			cmd.fn()
			close(cmd.done)
		case <-s.closed:
			return
		}
	}
}

// drain applies every event already queued without waiting for more. It
// returns nil once the stream is closed.
func (s *Service) drain(events <-chan stt.Event) <-chan stt.Event {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !s.apply(ev, events) {
				return nil
			}
		default:
			return events
		}
	}
}

// apply handles ev. A partial followed by queued partials is superseded by
// the newest one, and a partial directly followed by a final is dropped.
// It reports false when the event stream was found closed.
func (s *Service) apply(ev stt.Event, events <-chan stt.Event) bool {
	for {
		p, ok := ev.(stt.Partial)
		if !ok {
			s.handle(ev)
			return true
		}

		select {
		case next, open := <-events:
			if !open {
				s.handle(p)
				return false
			}
			switch next.(type) {
			case stt.Partial, stt.Final:
			default:
				s.handle(p)
			}
			ev = next
		default:
			s.handle(p)
			return true
		}
	}
}

func (s *Service) handle(ev stt.Event) {
	switch e := ev.(type) {
	case stt.Partial:
		s.segmenter.AcceptPartial(e.Text)
		s.setLastPartial(e.Text)
	case stt.Final:
		s.segmenter.AcceptFinal(e.Text)
		s.setLastPartial("")
		if s.settled {
			s.segmenter.Flush()
			slog.Debug("late final flushed after stop", "text", e.Text)
		}
	case stt.Error:
		s.publish("recognition error", e)
	}
}

func (s *Service) setLastPartial(text string) {
	s.lastPartial.Store(&text)
}
