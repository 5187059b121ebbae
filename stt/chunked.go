package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.aimuz.me/autocap/audiocapture"
)

// ChunkedConfig configures a Chunked recognizer.
type ChunkedConfig struct {
	Transcriber Transcriber
	Detector    Detector // default EnergyDetector{DefaultEnergyThreshold}
	Language    string
	SampleRate  int // default 16000

	MinSpeech       time.Duration // shorter bursts are dropped, default 250ms
	MaxSpeech       time.Duration // longer speech is cut, default 5s
	Silence         time.Duration // silence ending an utterance, default 500ms
	TranscribeDelay time.Duration // minimum gap between forced cuts, default 300ms
	PreRoll         time.Duration // audio kept from before speech onset, default 300ms
	Overlap         float64       // share of a forced cut repeated in the next chunk
	MinLevel        float32       // chunks with a lower mean level are skipped, default 0.001

	// PartialInterval re-transcribes the utterance in progress this often to
	// produce partial text. Zero disables interim transcription.
	PartialInterval time.Duration
	Timeout         time.Duration // per transcription call, default 30s
	QueueSize       int           // pending transcriptions, default 8
}

func (c *ChunkedConfig) applyDefaults() {
	if c.Detector == nil {
		c.Detector = EnergyDetector{Threshold: DefaultEnergyThreshold}
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.MinSpeech == 0 {
		c.MinSpeech = 250 * time.Millisecond
	}
	if c.MaxSpeech == 0 {
		c.MaxSpeech = 5 * time.Second
	}
	if c.Silence == 0 {
		c.Silence = 500 * time.Millisecond
	}
	if c.TranscribeDelay == 0 {
		c.TranscribeDelay = 300 * time.Millisecond
	}
	if c.PreRoll == 0 {
		c.PreRoll = 300 * time.Millisecond
	}
	if c.MinLevel == 0 {
		c.MinLevel = 0.001
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.QueueSize == 0 {
		c.QueueSize = 8
	}
}

// chunk is one unit of work for the transcription goroutine.
type chunk struct {
	audio   []float32
	final   bool
	barrier chan struct{} // closed when reached, carries no audio
}

// Chunked turns a batch Transcriber into a streaming Recognizer.
//
// Audio is segmented into utterances by voice activity. Each finished
// utterance, or each cut of an utterance longer than MaxSpeech, is
// transcribed and emitted as a Partial followed by a Final with the same
// text. Transcription runs on one goroutine so results keep audio order.
type Chunked struct {
	cfg     ChunkedConfig
	emitter *Emitter

	mu           sync.Mutex
	vad          *VAD
	buffer       *AudioBuffer
	ring         *audiocapture.RingBuffer
	preRoll      int // samples
	sincePartial time.Duration
	closed       bool

	jobs      chan chunk
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewChunked creates a chunked recognizer and starts its transcription goroutine.
func NewChunked(cfg ChunkedConfig) (*Chunked, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("chunked recognizer: transcriber is required")
	}
	cfg.applyDefaults()
	if cfg.Overlap < 0 || cfg.Overlap >= 1 {
		return nil, fmt.Errorf("chunked recognizer: overlap %.2f out of range [0, 1)", cfg.Overlap)
	}

	preRoll := int(cfg.PreRoll.Seconds() * float64(cfg.SampleRate))
	ctx, cancel := context.WithCancel(context.Background())
	c := &Chunked{
		cfg:     cfg,
		emitter: NewEmitter(DefaultEventBuffer),
		vad:     NewVAD(cfg.Detector, cfg.MinSpeech, cfg.MaxSpeech, cfg.Silence, cfg.TranscribeDelay),
		buffer:  NewAudioBuffer(cfg.SampleRate, cfg.Overlap),
		// Room for the pre-roll plus a generous frame.
		ring:    audiocapture.NewRingBuffer(preRoll + cfg.SampleRate),
		preRoll: preRoll,
		jobs:    make(chan chunk, cfg.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// AcceptWaveform feeds one frame of 16-bit PCM. It returns true when the
// frame ended an utterance and its transcription was queued. A full queue
// blocks until the transcriber catches up.
func (c *Chunked) AcceptWaveform(pcm []byte) bool {
	samples := audiocapture.PCM16ToFloat32(pcm)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	c.ring.Write(samples)
	res := c.vad.Process(samples, c.cfg.SampleRate)

	switch {
	case res.Event.Type == EventSpeechStart:
		c.buffer.Clear()
		c.buffer.Append(c.ring.Read(c.preRoll + len(samples)))
		c.sincePartial = 0
	case res.Event.Type == EventSpeechDiscarded:
		slog.Debug("discarding short noise burst", "duration", res.Event.Duration)
		c.buffer.Clear()
	case c.vad.InSpeech() || res.Event.Type == EventSpeechEnd:
		c.buffer.Append(samples)
	}

	if res.ShouldTranscribe {
		audio := c.buffer.Extract()
		if res.Event.Type == EventSpeechEnd {
			c.buffer.Clear()
		}
		c.sincePartial = 0
		slog.Debug("utterance cut", "event", res.Event.Type, "duration", res.Event.Duration)
		c.enqueue(chunk{audio: audio, final: true})
		return true
	}

	if c.cfg.PartialInterval > 0 && c.vad.InSpeech() {
		c.sincePartial += time.Duration(len(samples)) * time.Second / time.Duration(c.cfg.SampleRate)
		if c.sincePartial >= c.cfg.PartialInterval {
			c.sincePartial = 0
			select {
			case c.jobs <- chunk{audio: c.buffer.Snapshot()}:
			default:
				// Interim results are best effort.
			}
		}
	}
	return false
}

// enqueue blocks until the job is queued or the recognizer is closed.
// Callers hold c.mu so jobs keep audio order.
func (c *Chunked) enqueue(j chunk) bool {
	select {
	case c.jobs <- j:
		return true
	case <-c.done:
		return false
	}
}

func (c *Chunked) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case j := <-c.jobs:
			if j.barrier != nil {
				close(j.barrier)
				continue
			}
			c.transcribe(j)
		}
	}
}

func (c *Chunked) transcribe(j chunk) {
	if level := meanLevel(j.audio); level < c.cfg.MinLevel {
		slog.Debug("skipping silent chunk", "level", level, "samples", len(j.audio))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := c.cfg.Transcriber.Transcribe(ctx, j.audio, c.cfg.Language)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		slog.Warn("transcription failed", "provider", c.cfg.Transcriber.Name(), "error", err)
		c.emitter.Fail(fmt.Errorf("transcribe with %s: %w", c.cfg.Transcriber.Name(), err))
		return
	}

	text := cleanText(res.Text)
	slog.Debug("chunk transcribed",
		"provider", c.cfg.Transcriber.Name(),
		"audio", time.Duration(len(j.audio))*time.Second/time.Duration(c.cfg.SampleRate),
		"took", time.Since(start),
		"final", j.final,
		"text", text)
	if text == "" {
		return
	}

	c.emitter.Partial(text)
	if j.final {
		c.emitter.Final(text)
	}
}

// Finish transcribes the utterance in progress as a Final and waits until
// every queued transcription has been emitted.
func (c *Chunked) Finish(ctx context.Context) error {
	barrier := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.vad.InSpeech() && c.buffer.Len() > 0 {
		audio := c.buffer.Extract()
		c.buffer.Clear()
		if !c.enqueue(chunk{audio: audio, final: true}) {
			c.mu.Unlock()
			return ErrClosed
		}
	}
	c.vad.Reset()
	c.ring.Clear()
	queued := c.enqueue(chunk{barrier: barrier})
	c.mu.Unlock()

	if !queued {
		return ErrClosed
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// FinishTimeout bounds Finish: one transcription per queued chunk plus the
// utterance in progress.
func (c *Chunked) FinishTimeout() time.Duration {
	return time.Duration(len(c.jobs)+1) * c.cfg.Timeout
}

// Events returns the recognition event stream.
func (c *Chunked) Events() <-chan Event {
	return c.emitter.Events()
}

// IsInitialized reports whether the underlying transcriber is ready.
func (c *Chunked) IsInitialized() bool {
	return c.cfg.Transcriber.IsReady()
}

// Close stops transcription, abandoning queued audio, and closes Events.
// The transcriber itself is left open.
func (c *Chunked) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.emitter.Close()

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.wg.Wait()
	})
	return nil
}
