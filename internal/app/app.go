// Package app wires configuration, audio sources, recognizers and storage
// into caption runs for the command line.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.aimuz.me/autocap/config"
	"go.aimuz.me/autocap/internal/types"
	"go.aimuz.me/autocap/session"
	"go.aimuz.me/autocap/stt"
	"go.aimuz.me/autocap/stt/realtime"
)

// Service holds the long-lived components of the application.
type Service struct {
	cfg      *config.Config
	registry *stt.Registry

	mu       sync.Mutex
	sessions *session.Store

	version string
}

// New creates a Service and registers the batch transcription providers.
func New(cfg *config.Config, version string) *Service {
	s := &Service{cfg: cfg, version: version}
	s.setupSTT()
	return s
}

// Version returns the application version.
func (s *Service) Version() string {
	return s.version
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Close releases providers and the session database.
func (s *Service) Close() error {
	var first error
	if s.registry != nil {
		first = s.registry.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions != nil {
		if err := s.sessions.Close(); err != nil && first == nil {
			first = err
		}
		s.sessions = nil
	}
	return first
}

func (s *Service) setupSTT() {
	s.registry = stt.NewRegistry()
	rc := s.cfg.Recognizer

	apiKey := rc.KeyFor(config.ProviderWhisperAPI)
	apiModel := ""
	if rc.Provider == config.ProviderWhisperAPI {
		apiModel = rc.Model
	}
	s.registry.Register(stt.NewWhisperAPI(stt.WhisperAPIConfig{
		APIKey:     apiKey,
		BaseURL:    rc.BaseURL,
		Model:      apiModel,
		Prompt:     rc.Prompt,
		SampleRate: s.cfg.Capture.SampleRate,
	}))
	if apiKey == "" {
		slog.Debug("whisper api registered without key", "env", config.EnvOpenAIKey)
	}

	// Registered even without whisper.cpp so it shows up as not ready.
	local, err := stt.NewWhisperLocal(stt.WhisperLocalConfig{
		ModelPath:  rc.WhisperModel,
		BinPath:    rc.WhisperBin,
		SampleRate: s.cfg.Capture.SampleRate,
	})
	if err != nil {
		slog.Error("init whisper local", "error", err)
	} else {
		s.registry.Register(local)
		if !local.IsReady() {
			slog.Debug("whisper local not ready, install whisper.cpp and a ggml model")
		}
	}

	slog.Debug("stt providers initialized", "count", len(s.registry.List()))
}

// Providers describes every recognizer provider and whether it can run.
func (s *Service) Providers() []types.ProviderInfo {
	var out []types.ProviderInfo
	for _, t := range s.registry.List() {
		out = append(out, types.ProviderInfo{
			Name:        t.Name(),
			DisplayName: t.DisplayName(),
			IsLocal:     t.IsLocal(),
			IsReady:     t.IsReady(),
		})
	}

	rc := s.cfg.Recognizer
	for _, p := range []struct {
		name, display string
	}{
		{config.ProviderDeepgram, "Deepgram (streaming)"},
		{config.ProviderOpenAIRealtime, "OpenAI Realtime (streaming)"},
	} {
		out = append(out, types.ProviderInfo{
			Name:        p.name,
			DisplayName: p.display,
			Streaming:   true,
			IsReady:     rc.KeyFor(p.name) != "",
		})
	}
	return out
}

// NewRecognizer builds the configured recognizer. Streaming providers
// connect before returning. The caller closes the recognizer.
func (s *Service) NewRecognizer(ctx context.Context) (stt.Recognizer, string, error) {
	rc := s.cfg.Recognizer
	rate := s.cfg.Capture.SampleRate

	switch rc.Provider {
	case config.ProviderWhisperAPI, config.ProviderWhisperLocal:
		t := s.registry.Get(rc.Provider)
		if t == nil {
			return nil, "", fmt.Errorf("provider %s: %w", rc.Provider, stt.ErrNotReady)
		}
		detector, err := s.detector()
		if err != nil {
			return nil, "", err
		}
		rec, err := stt.NewChunked(stt.ChunkedConfig{
			Transcriber:     t,
			Detector:        detector,
			Language:        rc.Language,
			SampleRate:      rate,
			PartialInterval: rc.PartialInterval(),
		})
		if err != nil {
			return nil, "", fmt.Errorf("create chunked recognizer: %w", err)
		}
		return rec, t.DisplayName(), nil

	case config.ProviderDeepgram:
		rec, err := stt.DialDeepgram(ctx, stt.DeepgramConfig{
			APIKey:     rc.ResolveAPIKey(),
			URL:        rc.BaseURL,
			Model:      rc.Model,
			Language:   rc.Language,
			SampleRate: rate,
		})
		if err != nil {
			return nil, "", err
		}
		return rec, "Deepgram", nil

	case config.ProviderOpenAIRealtime:
		rec, err := realtime.Dial(ctx, realtime.Config{
			APIKey:     rc.ResolveAPIKey(),
			Model:      rc.Model,
			Language:   rc.Language,
			Prompt:     rc.Prompt,
			SampleRate: rate,
			BaseURL:    rc.BaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return rec, "OpenAI Realtime", nil
	}
	return nil, "", fmt.Errorf("unknown recognizer provider %q", rc.Provider)
}

func (s *Service) detector() (stt.Detector, error) {
	rc := s.cfg.Recognizer
	if rc.VADMode == config.VADEnergy {
		threshold := rc.VADThreshold
		if threshold == 0 {
			threshold = stt.DefaultEnergyThreshold
		}
		return stt.EnergyDetector{Threshold: threshold}, nil
	}
	d, err := stt.NewWebRTCDetector(rc.VADMode)
	if err != nil {
		return nil, fmt.Errorf("create vad: %w", err)
	}
	return d, nil
}

// Sessions opens the session database on first use.
func (s *Service) Sessions() (*session.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions != nil {
		return s.sessions, nil
	}
	store, err := session.Open(s.cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	s.sessions = store
	slog.Debug("session store opened", "path", s.cfg.Storage.Dir)
	return store, nil
}
