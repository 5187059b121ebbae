package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.aimuz.me/autocap/audiocapture"
)

// WhisperLocal transcribes chunks with a locally installed whisper.cpp CLI.
// Models are not downloaded; ModelPath must point at an existing ggml model.
type WhisperLocal struct {
	modelPath  string
	binPath    string // Path to whisper-cpp binary
	threads    int
	sampleRate int
	ready      bool
}

// WhisperLocalConfig holds configuration for WhisperLocal.
type WhisperLocalConfig struct {
	ModelPath  string // ggml model file, e.g. ~/.autocap/models/ggml-base.bin
	BinPath    string // whisper.cpp binary; searched in PATH and common locations when empty
	Threads    int    // 0 lets whisper.cpp decide
	SampleRate int    // default 16000
}

// DefaultModelPath returns the conventional location of the base model.
func DefaultModelPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(homeDir, ".autocap", "models", "ggml-base.bin"), nil
}

// NewWhisperLocal creates a WhisperLocal transcriber. It succeeds even when
// the binary or model is missing; IsReady reports that state.
func NewWhisperLocal(cfg WhisperLocalConfig) (*WhisperLocal, error) {
	if cfg.ModelPath == "" {
		p, err := DefaultModelPath()
		if err != nil {
			return nil, err
		}
		cfg.ModelPath = p
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}

	w := &WhisperLocal{
		modelPath:  cfg.ModelPath,
		binPath:    cfg.BinPath,
		threads:    cfg.Threads,
		sampleRate: cfg.SampleRate,
	}
	if w.binPath == "" {
		w.binPath = findWhisperBinary()
	}

	_, modelErr := os.Stat(w.modelPath)
	_, binErr := os.Stat(w.binPath)
	w.ready = w.binPath != "" && modelErr == nil && binErr == nil

	return w, nil
}

func (w *WhisperLocal) Name() string { return "whisper-local" }
func (w *WhisperLocal) DisplayName() string {
	model := strings.TrimSuffix(filepath.Base(w.modelPath), filepath.Ext(w.modelPath))
	if w.binPath == "" {
		return fmt.Sprintf("Whisper Local (%s) [whisper.cpp not installed]", model)
	}
	return fmt.Sprintf("Whisper Local (%s)", model)
}
func (w *WhisperLocal) IsLocal() bool { return true }
func (w *WhisperLocal) IsReady() bool { return w.ready }

// HasBinary returns true if whisper-cpp binary is available.
func (w *WhisperLocal) HasBinary() bool { return w.binPath != "" }

// ModelPath returns the configured model file.
func (w *WhisperLocal) ModelPath() string { return w.modelPath }

// Transcribe converts audio samples to text using local whisper.cpp.
func (w *WhisperLocal) Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error) {
	if !w.ready {
		return nil, fmt.Errorf("whisper local: %w: binary or model missing", ErrNotReady)
	}

	tmpDir, err := os.MkdirTemp("", "autocap-whisper-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	audioPath := filepath.Join(tmpDir, "chunk.wav")
	if err := os.WriteFile(audioPath, audiocapture.EncodeWAV(audio, w.sampleRate), 0644); err != nil {
		return nil, fmt.Errorf("write audio file: %w", err)
	}
	outBase := filepath.Join(tmpDir, "chunk")

	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-oj", // JSON written to <outBase>.json
		"-of", outBase,
		"-nt",
		"--no-prints",
	}
	if language != "" {
		args = append(args, "-l", language)
	}
	if w.threads > 0 {
		args = append(args, "-t", fmt.Sprint(w.threads))
	}

	cmd := exec.CommandContext(ctx, w.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("whisper-cpp failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		// Older builds only print to stdout.
		return &TranscribeResult{
			Text:       strings.TrimSpace(stdout.String()),
			Language:   language,
			Confidence: 0.8,
		}, nil
	}

	var out whisperCppOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper-cpp output: %w", err)
	}

	result := &TranscribeResult{
		Language:   out.Result.Language,
		Confidence: 0.9,
		Segments:   make([]Segment, 0, len(out.Transcription)),
	}
	var text strings.Builder
	for _, seg := range out.Transcription {
		text.WriteString(seg.Text)
		result.Segments = append(result.Segments, Segment{
			Text:  strings.TrimSpace(seg.Text),
			Start: time.Duration(seg.Offsets.From) * time.Millisecond,
			End:   time.Duration(seg.Offsets.To) * time.Millisecond,
		})
	}
	result.Text = strings.TrimSpace(text.String())
	if result.Language == "" {
		result.Language = language
	}
	return result, nil
}

func findWhisperBinary() string {
	// Common binary names - whisper-cli is the Homebrew name
	names := []string{"whisper-cli", "whisper-cpp", "whisper"}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	homeDir, _ := os.UserHomeDir()
	locations := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		filepath.Join(homeDir, ".local", "bin"),
		filepath.Join(homeDir, "whisper.cpp", "build", "bin"),
	}
	if runtime.GOOS == "windows" {
		for i, n := range names {
			names[i] = n + ".exe"
		}
	}

	for _, loc := range locations {
		for _, name := range names {
			path := filepath.Join(loc, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func (w *WhisperLocal) Close() error {
	return nil
}

// whisperCppOutput represents the JSON output from whisper.cpp.
type whisperCppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text    string `json:"text"`
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
	} `json:"transcription"`
}
