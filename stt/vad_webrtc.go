package stt

import (
	"fmt"
	"log/slog"

	"github.com/maxhawkins/go-webrtcvad"

	"go.aimuz.me/autocap/audiocapture"
)

// WebRTCDetector classifies speech with the WebRTC voice activity detector.
// It supports 8, 16, 32 and 48 kHz audio and analyzes 10ms frames.
type WebRTCDetector struct {
	vad *webrtcvad.VAD
	// MinVoicedRatio is the share of voiced 10ms frames needed to call a
	// block speech.
	MinVoicedRatio float64
}

// NewWebRTCDetector creates a detector with aggressiveness mode 0 (least) to 3 (most).
func NewWebRTCDetector(mode int) (*WebRTCDetector, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("invalid vad mode %d, want 0-3", mode)
	}
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("create webrtc vad: %w", err)
	}
	if err := vad.SetMode(mode); err != nil {
		return nil, fmt.Errorf("set vad mode: %w", err)
	}
	return &WebRTCDetector{vad: vad, MinVoicedRatio: 0.3}, nil
}

// IsSpeech reports whether enough 10ms frames of samples contain voice.
// Blocks shorter than one frame are zero padded.
func (d *WebRTCDetector) IsSpeech(samples []float32, sampleRate int) bool {
	frameSize := sampleRate / 100
	if frameSize == 0 || !d.vad.ValidRateAndFrameLength(sampleRate, frameSize) {
		slog.Debug("webrtc vad: unsupported sample rate", "sample_rate", sampleRate)
		return false
	}
	if len(samples) < frameSize {
		padded := make([]float32, frameSize)
		copy(padded, samples)
		samples = padded
	}

	pcm := audiocapture.Float32ToPCM16(samples)
	frameBytes := frameSize * 2

	var frames, voiced int
	for i := 0; i+frameBytes <= len(pcm); i += frameBytes {
		active, err := d.vad.Process(sampleRate, pcm[i:i+frameBytes])
		if err != nil {
			slog.Debug("webrtc vad process", "error", err)
			continue
		}
		frames++
		if active {
			voiced++
		}
	}
	if frames == 0 {
		return false
	}
	return float64(voiced)/float64(frames) >= d.MinVoicedRatio
}
