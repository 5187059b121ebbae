package stt

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"go.aimuz.me/autocap/audiocapture"
)

// WhisperAPI transcribes chunks with the OpenAI audio transcription endpoint.
type WhisperAPI struct {
	client     openai.Client
	model      string
	prompt     string
	sampleRate int
	ready      bool
}

// WhisperAPIConfig holds configuration for WhisperAPI.
type WhisperAPIConfig struct {
	APIKey     string
	BaseURL    string // Optional, defaults to OpenAI's API
	Model      string // Optional, defaults to "whisper-1"
	Prompt     string // Optional vocabulary or style hint
	SampleRate int    // Sample rate of the audio passed to Transcribe, default 16000
	HTTPClient *http.Client
}

// NewWhisperAPI creates a new WhisperAPI transcriber.
func NewWhisperAPI(cfg WhisperAPIConfig) *WhisperAPI {
	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(2),
		option.WithRequestTimeout(60 * time.Second),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &WhisperAPI{
		client:     openai.NewClient(opts...),
		model:      model,
		prompt:     cfg.Prompt,
		sampleRate: sampleRate,
		ready:      cfg.APIKey != "",
	}
}

func (w *WhisperAPI) Name() string        { return "whisper-api" }
func (w *WhisperAPI) DisplayName() string { return fmt.Sprintf("OpenAI Whisper API (%s)", w.model) }
func (w *WhisperAPI) IsLocal() bool       { return false }
func (w *WhisperAPI) IsReady() bool       { return w.ready }

// Transcribe uploads audio as a WAV file and returns the recognized text.
func (w *WhisperAPI) Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error) {
	if !w.ready {
		return nil, fmt.Errorf("whisper api: %w: API key not configured", ErrNotReady)
	}

	wav := audiocapture.EncodeWAV(audio, w.sampleRate)
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(w.model),
	}
	if language != "" {
		params.Language = openai.String(language)
	}
	if w.prompt != "" {
		params.Prompt = openai.String(w.prompt)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create transcription: %w", err)
	}

	return &TranscribeResult{
		Text:       strings.TrimSpace(resp.Text),
		Language:   language,
		Confidence: 1.0,
	}, nil
}

func (w *WhisperAPI) Close() error {
	return nil
}
