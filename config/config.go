// Package config handles application configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"

	"go.aimuz.me/autocap/subtitle"
)

const (
	appName        = "autocap"
	configFileName = "config.json"
)

// Recognizer providers.
const (
	ProviderWhisperAPI     = "whisper-api"
	ProviderWhisperLocal   = "whisper-local"
	ProviderDeepgram       = "deepgram"
	ProviderOpenAIRealtime = "openai-realtime"
)

// Providers lists the supported recognizer providers.
var Providers = []string{ProviderWhisperAPI, ProviderWhisperLocal, ProviderDeepgram, ProviderOpenAIRealtime}

// Audio sources.
const (
	SourceDevice  = "device"
	SourceFile    = "file"
	SourceStdin   = "stdin"
	SourceSilence = "silence"
)

// Log formats. Auto picks tinted text on a terminal and JSON otherwise.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// VADEnergy selects the energy detector instead of WebRTC VAD.
const VADEnergy = -1

// Environment variables consulted when no API key is configured.
const (
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvDeepgramKey = "DEEPGRAM_API_KEY"
)

// Config represents the application configuration.
type Config struct {
	Segmenter  SegmenterConfig  `json:"segmenter"`
	Capture    CaptureConfig    `json:"capture"`
	Recognizer RecognizerConfig `json:"recognizer"`
	Storage    StorageConfig    `json:"storage"`
	Logging    LoggingConfig    `json:"logging"`
}

// SegmenterConfig controls how recognized text becomes subtitle lines.
type SegmenterConfig struct {
	MaxLineCharacters int    `json:"max_line_characters"`
	MaxLineDurationMs int    `json:"max_line_duration_ms"`
	PauseThresholdMs  int    `json:"pause_threshold_ms,omitempty"`
	AutoPunctuate     bool   `json:"auto_punctuate"`
	AutoCapitalize    bool   `json:"auto_capitalize"`
	Language          string `json:"language,omitempty"` // casing rules, BCP 47
}

// CaptureConfig selects and shapes the audio source.
type CaptureConfig struct {
	Source     string `json:"source"`
	Device     string `json:"device,omitempty"` // empty selects the default input
	File       string `json:"file,omitempty"`
	SampleRate int    `json:"sample_rate"`
	FrameMs    int    `json:"frame_ms"`
	Realtime   bool   `json:"realtime"` // pace file input at playback speed
}

// RecognizerConfig selects the speech recognizer.
type RecognizerConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`

	WhisperBin   string `json:"whisper_bin,omitempty"`
	WhisperModel string `json:"whisper_model,omitempty"`

	VADMode      int     `json:"vad_mode"` // 0-3 for WebRTC VAD, -1 for the energy detector
	VADThreshold float32 `json:"vad_threshold,omitempty"`
	// PartialIntervalMs re-transcribes speech in progress for chunked
	// providers. Zero disables interim text.
	PartialIntervalMs int `json:"partial_interval_ms,omitempty"`
}

// StorageConfig locates saved sessions and exports.
type StorageConfig struct {
	Dir       string `json:"dir"`
	ExportDir string `json:"export_dir"`
}

// LoggingConfig controls the log handler.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	seg := subtitle.DefaultConfig()
	return &Config{
		Segmenter: SegmenterConfig{
			MaxLineCharacters: seg.MaxLineCharacters,
			MaxLineDurationMs: int(seg.MaxLineDuration / time.Millisecond),
			AutoPunctuate:     seg.AutoPunctuate,
			AutoCapitalize:    seg.AutoCapitalize,
		},
		Capture: CaptureConfig{
			Source:     SourceDevice,
			SampleRate: 16000,
			FrameMs:    20,
			Realtime:   true,
		},
		Recognizer: RecognizerConfig{
			Provider: ProviderWhisperAPI,
			VADMode:  2,
		},
		Storage: StorageConfig{
			ExportDir: ".",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: LogFormatAuto,
		},
	}
}

// Load loads configuration from the default path.
// Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path. Fields missing from the file keep
// their default values. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := cfg.applyDefaults(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists the configuration to the default path.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}
	return c.SaveFile(path)
}

// SaveFile persists the configuration to path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file may hold API keys.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Path returns the default configuration file path.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// DefaultStorageDir returns the default session database directory.
func DefaultStorageDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, "sessions"), nil
}

func (c *Config) applyDefaults() error {
	if c.Storage.Dir == "" {
		dir, err := DefaultStorageDir()
		if err != nil {
			return err
		}
		c.Storage.Dir = dir
	}
	if c.Storage.ExportDir == "" {
		c.Storage.ExportDir = "."
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatAuto
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	s := c.Segmenter
	if s.MaxLineCharacters < 0 || s.MaxLineDurationMs < 0 || s.PauseThresholdMs < 0 {
		return errors.New("segmenter limits must not be negative")
	}
	if s.Language != "" {
		if _, err := language.Parse(s.Language); err != nil {
			return fmt.Errorf("segmenter language %q: %w", s.Language, err)
		}
	}

	switch c.Capture.Source {
	case SourceDevice, SourceStdin, SourceSilence:
	case SourceFile:
		if c.Capture.File == "" {
			return errors.New("capture source file needs a file path")
		}
	default:
		return fmt.Errorf("unknown capture source %q", c.Capture.Source)
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.Capture.SampleRate)
	}
	if c.Capture.FrameMs <= 0 {
		return fmt.Errorf("invalid frame duration %dms", c.Capture.FrameMs)
	}

	if !slices.Contains(Providers, c.Recognizer.Provider) {
		return fmt.Errorf("unknown recognizer provider %q, want one of %s",
			c.Recognizer.Provider, strings.Join(Providers, ", "))
	}
	if c.Recognizer.VADMode < VADEnergy || c.Recognizer.VADMode > 3 {
		return fmt.Errorf("invalid vad mode %d, want -1 to 3", c.Recognizer.VADMode)
	}
	if c.Recognizer.VADThreshold < 0 {
		return errors.New("vad threshold must not be negative")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case LogFormatAuto, LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// Subtitle converts the settings to a segmenter configuration.
func (s SegmenterConfig) Subtitle() subtitle.Config {
	tag := language.Und
	if s.Language != "" {
		if t, err := language.Parse(s.Language); err == nil {
			tag = t
		}
	}
	return subtitle.Config{
		MaxLineCharacters: s.MaxLineCharacters,
		MaxLineDuration:   time.Duration(s.MaxLineDurationMs) * time.Millisecond,
		PauseThreshold:    time.Duration(s.PauseThresholdMs) * time.Millisecond,
		AutoPunctuate:     s.AutoPunctuate,
		AutoCapitalize:    s.AutoCapitalize,
		Language:          tag,
	}
}

// FrameDuration returns the capture frame length.
func (c CaptureConfig) FrameDuration() time.Duration {
	return time.Duration(c.FrameMs) * time.Millisecond
}

// ResolveAPIKey returns the configured key or the provider's environment
// variable. Local providers need no key.
func (r RecognizerConfig) ResolveAPIKey() string {
	if r.APIKey != "" {
		return r.APIKey
	}
	switch r.Provider {
	case ProviderDeepgram:
		return os.Getenv(EnvDeepgramKey)
	case ProviderWhisperAPI, ProviderOpenAIRealtime:
		return os.Getenv(EnvOpenAIKey)
	}
	return ""
}

// KeyFor resolves the API key for provider. The configured key only
// applies to the configured provider.
func (r RecognizerConfig) KeyFor(provider string) string {
	if r.Provider != provider {
		r = RecognizerConfig{Provider: provider}
	}
	return r.ResolveAPIKey()
}

// PartialInterval returns the interim transcription period.
func (r RecognizerConfig) PartialInterval() time.Duration {
	return time.Duration(r.PartialIntervalMs) * time.Millisecond
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return level, nil
}
