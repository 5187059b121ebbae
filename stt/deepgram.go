package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultDeepgramURL is the Deepgram live transcription endpoint.
const DefaultDeepgramURL = "wss://api.deepgram.com/v1/listen"

// DeepgramConfig configures a Deepgram streaming recognizer.
type DeepgramConfig struct {
	APIKey     string
	URL        string // default DefaultDeepgramURL
	Model      string // default "nova-2"
	Language   string // empty lets the service decide
	SampleRate int    // default 16000
	KeepAlive  time.Duration
	Dialer     *websocket.Dialer
}

// Deepgram streams PCM to Deepgram over a WebSocket. Interim results become
// Partial events and is_final results become Final events.
type Deepgram struct {
	conn    *websocket.Conn
	emitter *Emitter
	cfg     DeepgramConfig

	writeMu   sync.Mutex
	lastWrite time.Time

	finalized chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closing   bool
	wg        sync.WaitGroup
}

type deepgramControl struct {
	Type string `json:"type"`
}

type deepgramResult struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// DialDeepgram opens a live transcription stream.
func DialDeepgram(ctx context.Context, cfg DeepgramConfig) (*Deepgram, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram: %w: API key not configured", ErrNotReady)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultDeepgramURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 5 * time.Second
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+cfg.APIKey)

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial deepgram: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}

	d := &Deepgram{
		conn:      conn,
		emitter:   NewEmitter(DefaultEventBuffer),
		cfg:       cfg,
		lastWrite: time.Now(),
		finalized: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	d.wg.Add(2)
	go d.readLoop()
	go d.keepAlive()

	slog.Info("deepgram stream opened", "model", cfg.Model, "language", cfg.Language)
	return d, nil
}

// AcceptWaveform sends one frame. Results arrive asynchronously, so it
// always reports false.
func (d *Deepgram) AcceptWaveform(pcm []byte) bool {
	if len(pcm) == 0 {
		return false
	}
	if err := d.write(websocket.BinaryMessage, pcm); err != nil && !errors.Is(err, ErrClosed) {
		d.emitter.Fail(fmt.Errorf("send audio: %w", err))
	}
	return false
}

// Finish asks Deepgram to flush buffered audio and waits for the
// resulting final result.
func (d *Deepgram) Finish(ctx context.Context) error {
	select {
	case <-d.finalized:
	default:
	}
	if err := d.writeJSON(deepgramControl{Type: "Finalize"}); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	select {
	case <-d.finalized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrClosed
	}
}

func (d *Deepgram) Events() <-chan Event { return d.emitter.Events() }
func (d *Deepgram) IsInitialized() bool  { return true }

// Close ends the stream and closes Events.
func (d *Deepgram) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)

		d.writeMu.Lock()
		d.closing = true
		payload, _ := json.Marshal(deepgramControl{Type: "CloseStream"})
		_ = d.conn.WriteMessage(websocket.TextMessage, payload)
		d.writeMu.Unlock()

		d.emitter.Close()
		err = d.conn.Close()
		d.wg.Wait()
	})
	return err
}

func (d *Deepgram) write(messageType int, data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if d.closing {
		return ErrClosed
	}
	d.lastWrite = time.Now()
	return d.conn.WriteMessage(messageType, data)
}

func (d *Deepgram) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.write(websocket.TextMessage, payload)
}

func (d *Deepgram) keepAlive() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.writeMu.Lock()
			idle := time.Since(d.lastWrite)
			d.writeMu.Unlock()
			if idle < d.cfg.KeepAlive {
				continue
			}
			if err := d.writeJSON(deepgramControl{Type: "KeepAlive"}); err != nil && !errors.Is(err, ErrClosed) {
				slog.Warn("deepgram keepalive failed", "error", err)
			}
		}
	}
}

func (d *Deepgram) readLoop() {
	defer d.wg.Done()
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			select {
			case <-d.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					slog.Warn("deepgram read failed", "error", err)
					d.emitter.Fail(fmt.Errorf("deepgram stream: %w", err))
				}
			}
			return
		}

		var res deepgramResult
		if err := json.Unmarshal(data, &res); err != nil {
			slog.Debug("ignoring unparsable deepgram message", "error", err)
			continue
		}
		d.handle(res)
	}
}

func (d *Deepgram) handle(res deepgramResult) {
	if res.Type != "" && res.Type != "Results" {
		slog.Debug("deepgram message", "type", res.Type)
		return
	}
	var text string
	if len(res.Channel.Alternatives) > 0 {
		text = res.Channel.Alternatives[0].Transcript
	}
	if res.IsFinal {
		d.emitter.Final(text)
	} else {
		d.emitter.Partial(text)
	}
	if res.FromFinalize {
		select {
		case d.finalized <- struct{}{}:
		default:
		}
	}
}
