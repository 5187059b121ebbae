package realtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	oairealtime "github.com/openai/openai-go/v3/realtime"
)

// DefaultCallsURL is the endpoint for the WebRTC SDP exchange.
const DefaultCallsURL = "https://api.openai.com/v1/realtime/calls"

// SessionToken holds the ephemeral key from CreateSession.
type SessionToken struct {
	Value     string
	ExpiresAt int64
}

var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// SessionConfig holds configuration for creating a transcription session.
type SessionConfig struct {
	Model     string       // Transcription model, default gpt-4o-transcribe
	Language  string       // Language code, empty for auto-detect
	Prompt    string       // Optional vocabulary hint
	Eagerness VADEagerness // Semantic VAD eagerness, default high
	BaseURL   string       // Optional API base URL
}

// CreateSession creates an ephemeral transcription session token.
func CreateSession(ctx context.Context, apiKey string, cfg SessionConfig) (*SessionToken, error) {
	model := cfg.Model
	if model == "" {
		model = string(oairealtime.AudioTranscriptionModelGPT4oTranscribe)
	}
	eagerness := cfg.Eagerness
	if eagerness == "" {
		eagerness = VADEagernessHigh
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	transcription := oairealtime.AudioTranscriptionParam{
		Model: oairealtime.AudioTranscriptionModel(model),
	}
	if cfg.Language != "" {
		transcription.Language = openai.String(cfg.Language)
	}
	if cfg.Prompt != "" {
		transcription.Prompt = openai.String(cfg.Prompt)
	}

	params := oairealtime.ClientSecretNewParams{
		Session: oairealtime.ClientSecretNewParamsSessionUnion{
			OfTranscription: &oairealtime.RealtimeTranscriptionSessionCreateRequestParam{
				Audio: oairealtime.RealtimeTranscriptionSessionAudioParam{
					Input: oairealtime.RealtimeTranscriptionSessionAudioInputParam{
						TurnDetection: oairealtime.RealtimeTranscriptionSessionAudioInputTurnDetectionUnionParam{
							OfSemanticVad: &oairealtime.RealtimeTranscriptionSessionAudioInputTurnDetectionSemanticVadParam{
								Type:      "semantic_vad",
								Eagerness: string(eagerness),
							},
						},
						Transcription: transcription,
					},
				},
			},
		},
	}
	resp, err := client.Realtime.ClientSecrets.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create client secret: %w", err)
	}

	return &SessionToken{
		Value:     resp.Value,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// ExchangeSDP posts the local SDP offer to endpoint and returns the answer.
func ExchangeSDP(ctx context.Context, endpoint, offer, ephemeralKey string) (string, error) {
	if endpoint == "" {
		endpoint = DefaultCallsURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+ephemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		slog.Error("SDP exchange failed", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}

	return string(body), nil
}
