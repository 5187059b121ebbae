package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/autocap/audiocapture"
	"go.aimuz.me/autocap/stt"
)

// frameDuration is the audio carried by one Opus packet.
const frameDuration = 20 * time.Millisecond

// Config configures a Recognizer.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	Prompt     string
	Eagerness  VADEagerness
	SampleRate int    // rate of the PCM passed to AcceptWaveform, default 16000
	BaseURL    string // optional API base URL for the session request
	CallsURL   string // optional SDP exchange endpoint
}

// conn is the part of Client the recognizer depends on.
type conn interface {
	SendAudio(samples []float32) error
	SendEvent(v any) error
	Messages() <-chan Event
	Errors() <-chan error
	Close() error
}

// Recognizer adapts a Realtime transcription session to stt.Recognizer.
// Transcript deltas accumulate per conversation item and are emitted as
// partials; a completed transcript is emitted as a final.
type Recognizer struct {
	conn    conn
	emitter *stt.Emitter

	audioMu   sync.Mutex
	resampler *resampler
	pending   []float32 // stereo interleaved, less than one frame
	frameLen  int
	sendErr   atomic.Bool

	mu          sync.Mutex
	items       map[string]string // item ID to text so far
	awaitCommit bool
	changed     chan struct{}

	loopDone  chan struct{}
	closeOnce sync.Once
}

// Dial creates a transcription session and connects to it.
func Dial(ctx context.Context, cfg Config) (*Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai realtime: %w: API key not configured", stt.ErrNotReady)
	}
	client := NewClient(ClientConfig{
		APIKey: cfg.APIKey,
		Session: SessionConfig{
			Model:     cfg.Model,
			Language:  cfg.Language,
			Prompt:    cfg.Prompt,
			Eagerness: cfg.Eagerness,
			BaseURL:   cfg.BaseURL,
		},
		CallsURL: cfg.CallsURL,
	})
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect realtime: %w", err)
	}
	slog.Info("realtime transcription connected", "model", cfg.Model, "language", cfg.Language)
	return newRecognizer(client, cfg.SampleRate), nil
}

func newRecognizer(c conn, sampleRate int) *Recognizer {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	r := &Recognizer{
		conn:      c,
		emitter:   stt.NewEmitter(stt.DefaultEventBuffer),
		resampler: newResampler(sampleRate, TrackSampleRate),
		frameLen:  TrackSampleRate * int(frameDuration/time.Millisecond) / 1000 * TrackChannels,
		items:     make(map[string]string),
		changed:   make(chan struct{}, 1),
		loopDone:  make(chan struct{}),
	}
	go r.loop()
	return r
}

// AcceptWaveform upsamples the frame to the track layout and sends every
// complete 20ms packet. Finals arrive asynchronously, so it reports false.
func (r *Recognizer) AcceptWaveform(pcm []byte) bool {
	r.audioMu.Lock()
	defer r.audioMu.Unlock()

	mono := r.resampler.process(audiocapture.PCM16ToFloat32(pcm))
	r.pending = append(r.pending, interleave(mono, TrackChannels)...)
	for len(r.pending) >= r.frameLen {
		err := r.conn.SendAudio(r.pending[:r.frameLen])
		r.pending = r.pending[r.frameLen:]
		if err != nil && !errors.Is(err, ErrClosed) && r.sendErr.CompareAndSwap(false, true) {
			slog.Warn("failed to send audio", "error", err)
			r.emitter.Fail(fmt.Errorf("send audio: %w", err))
		}
	}
	if len(r.pending) == 0 {
		r.pending = nil
	}
	return false
}

// Finish commits the input buffer and waits for every outstanding item to
// be transcribed.
func (r *Recognizer) Finish(ctx context.Context) error {
	r.mu.Lock()
	r.awaitCommit = true
	r.mu.Unlock()

	if err := r.conn.SendEvent(BufferCommit{Type: ClientBufferCommit}); err != nil {
		r.mu.Lock()
		r.awaitCommit = false
		r.mu.Unlock()
		return fmt.Errorf("commit audio: %w", err)
	}

	for {
		r.mu.Lock()
		settled := !r.awaitCommit && len(r.items) == 0
		r.mu.Unlock()
		if settled {
			return nil
		}

		select {
		case <-r.changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-r.loopDone:
			return stt.ErrClosed
		}
	}
}

func (r *Recognizer) Events() <-chan stt.Event { return r.emitter.Events() }
func (r *Recognizer) IsInitialized() bool      { return true }

// Close disconnects and closes Events.
func (r *Recognizer) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.emitter.Close()
		err = r.conn.Close()
		<-r.loopDone
	})
	return err
}

func (r *Recognizer) loop() {
	defer close(r.loopDone)

	errs := r.conn.Errors()
	for {
		select {
		case ev, ok := <-r.conn.Messages():
			if !ok {
				return
			}
			r.handle(ev)
		case err := <-errs:
			slog.Warn("realtime connection failed", "error", err)
			r.emitter.Fail(fmt.Errorf("realtime connection: %w", err))
		}
	}
}

func (r *Recognizer) handle(ev Event) {
	switch e := ev.(type) {
	case SpeechStartedEvent:
		r.track(e.ItemID)
	case CommittedEvent:
		r.mu.Lock()
		r.trackLocked(e.ItemID)
		r.awaitCommit = false
		r.mu.Unlock()
	case TranscriptDeltaEvent:
		r.mu.Lock()
		r.trackLocked(e.ItemID)
		r.items[e.ItemID] += e.Delta
		text := r.items[e.ItemID]
		r.mu.Unlock()
		r.emitter.Partial(text)
	case TranscriptEvent:
		r.emitter.Final(e.Transcript)
		r.settle(e.ItemID)
	case TranscriptFailedEvent:
		r.emitter.Fail(fmt.Errorf("transcribe item %s: %s", e.ItemID, e.Error.Message))
		r.settle(e.ItemID)
	case ErrorEvent:
		if e.Error.Code == errCommitEmpty {
			r.mu.Lock()
			r.awaitCommit = false
			r.mu.Unlock()
			r.notify()
			return
		}
		r.emitter.Fail(fmt.Errorf("api error: %s (%s)", e.Error.Message, e.Error.Code))
	case SpeechStoppedEvent:
		slog.Debug("speech stopped", "item", e.ItemID, "audio_end_ms", e.AudioEndMs)
	default:
		slog.Debug("unhandled realtime event", "type", ev.eventType())
	}
	r.notify()
}

func (r *Recognizer) track(itemID string) {
	r.mu.Lock()
	r.trackLocked(itemID)
	r.mu.Unlock()
}

func (r *Recognizer) trackLocked(itemID string) {
	if itemID == "" {
		return
	}
	if _, ok := r.items[itemID]; !ok {
		r.items[itemID] = ""
	}
}

func (r *Recognizer) settle(itemID string) {
	r.mu.Lock()
	delete(r.items, itemID)
	r.mu.Unlock()
}

func (r *Recognizer) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}
