// Package realtime streams audio to the OpenAI Realtime API over WebRTC and
// exposes the transcription session as an stt.Recognizer.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Opus track layout expected by the Realtime API.
const (
	TrackSampleRate = 48000
	TrackChannels   = 2
)

var (
	ErrNotReady = errors.New("realtime client not ready")
	ErrClosed   = errors.New("realtime client closed")
)

// ClientConfig holds configuration for the client.
type ClientConfig struct {
	APIKey     string
	Session    SessionConfig
	CallsURL   string   // default DefaultCallsURL
	ICEServers []string // default Google STUN
}

// Client handles the WebRTC connection to the OpenAI Realtime API.
type Client struct {
	// Hot path (audio encoding)
	opusEncoder *opuscodec.Encoder
	audioTrack  *webrtc.TrackLocalStaticSample
	opusBuffer  []byte
	encodeMu    sync.Mutex

	mu     sync.Mutex // protects closed and connection state
	closed bool

	cfg            ClientConfig
	peerConnection *webrtc.PeerConnection
	dataChannel    *webrtc.DataChannel
	dcOpen         chan struct{}
	msgMu          sync.RWMutex // guards msgChan against send after close
	msgChan        chan Event
	errChan        chan error
	done           chan struct{}
}

// NewClient creates a WebRTC based Realtime client. Call Connect before use.
func NewClient(cfg ClientConfig) *Client {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &Client{
		cfg:     cfg,
		msgChan: make(chan Event, 100),
		errChan: make(chan error, 1),
		dcOpen:  make(chan struct{}),
		done:    make(chan struct{}),
		// Max Opus packet size
		opusBuffer: make([]byte, 1275),
	}
}

// Connect creates a transcription session and establishes the peer
// connection. It returns once the event data channel is open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	slog.Info("creating realtime transcription session", "model", c.cfg.Session.Model)
	token, err := CreateSession(ctx, c.cfg.APIKey, c.cfg.Session)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	slog.Info("session created", "expires", time.Unix(token.ExpiresAt, 0))

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: c.cfg.ICEServers}},
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: TrackSampleRate,
			Channels:  TrackChannels,
		},
		"audio",
		"autocap-audio",
	)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create audio track: %w", err)
	}
	if _, err = pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		return fmt.Errorf("add audio track: %w", err)
	}

	opusEnc, err := opuscodec.NewEncoder(TrackSampleRate, TrackChannels, opuscodec.AppRestrictedLowdelay)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create opus encoder: %w", err)
	}

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}

	c.mu.Lock()
	c.peerConnection = pc
	c.audioTrack = audioTrack
	c.opusEncoder = opusEnc
	c.dataChannel = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		slog.Debug("data channel opened")
		close(c.dcOpen)
	})
	dc.OnMessage(c.handleDataMessage)

	// Transcription sessions send no audio back; drain anything that arrives.
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateDisconnected {
			select {
			case c.errChan <- fmt.Errorf("ICE connection %s", state.String()):
			default:
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		return ctx.Err()
	}

	answerSDP, err := ExchangeSDP(ctx, c.cfg.CallsURL, pc.LocalDescription().SDP, token.Value)
	if err != nil {
		return fmt.Errorf("exchange SDP: %w", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	select {
	case <-c.dcOpen:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for data channel: %w", ctx.Err())
	}
}

func (c *Client) handleDataMessage(msg webrtc.DataChannelMessage) {
	event, err := ParseEvent(msg.Data)
	if err != nil {
		slog.Warn("failed to parse realtime event", "error", err)
		return
	}

	c.msgMu.RLock()
	defer c.msgMu.RUnlock()
	select {
	case <-c.done:
	case c.msgChan <- event:
	case <-time.After(50 * time.Millisecond):
		slog.Warn("realtime event channel full", "type", event.eventType())
	}
}

// SendAudio encodes one 20ms block of 48kHz stereo interleaved samples.
func (c *Client) SendAudio(samples []float32) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	track := c.audioTrack
	encoder := c.opusEncoder
	c.mu.Unlock()

	if track == nil || encoder == nil {
		return ErrNotReady
	}

	c.encodeMu.Lock()
	defer c.encodeMu.Unlock()

	n, err := encoder.EncodeFloat32(samples, c.opusBuffer)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}

	// WriteSample copies the data.
	return track.WriteSample(media.Sample{
		Data:     c.opusBuffer[:n],
		Duration: time.Duration(len(samples)/TrackChannels) * time.Second / TrackSampleRate,
	})
}

// SendEvent marshals v and sends it on the data channel.
func (c *Client) SendEvent(v any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	dc := c.dataChannel
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotReady
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return dc.SendText(string(data))
}

// ConfigureVAD sends a session.update changing turn detection.
func (c *Client) ConfigureVAD(td TurnDetection) error {
	msg := SessionUpdate{Type: ClientSessionUpdate}
	msg.Session.TurnDetection = &td
	return c.SendEvent(msg)
}

// Messages returns the channel of parsed server events. It is closed by Close.
func (c *Client) Messages() <-chan Event {
	return c.msgChan
}

// Errors returns the channel for connection failures.
func (c *Client) Errors() <-chan error {
	return c.errChan
}

// Close shuts down the peer connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	pc := c.peerConnection
	c.mu.Unlock()

	if pc != nil {
		// Blocks until data channel callbacks have returned.
		_ = pc.Close()
	}
	c.msgMu.Lock()
	close(c.msgChan)
	c.msgMu.Unlock()
	return nil
}
