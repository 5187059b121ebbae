package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestWhisperAPI_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			http.Error(w, "bad auth "+got, http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "en" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  Hello from the API. "}`))
	}))
	defer srv.Close()

	w := NewWhisperAPI(WhisperAPIConfig{APIKey: "test-key", BaseURL: srv.URL + "/"})
	if !w.IsReady() || w.IsLocal() {
		t.Fatalf("IsReady=%v IsLocal=%v", w.IsReady(), w.IsLocal())
	}

	res, err := w.Transcribe(context.Background(), makeSpeech(1600, 0.1), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "Hello from the API." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q", res.Language)
	}
}

func TestWhisperAPI_NotReadyWithoutKey(t *testing.T) {
	w := NewWhisperAPI(WhisperAPIConfig{})
	if w.IsReady() {
		t.Error("IsReady() = true without key")
	}
	if _, err := w.Transcribe(context.Background(), nil, ""); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

const fakeWhisperScript = `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = "-of" ]; then out="$2"; fi
  shift
done
cat > "$out.json" <<'EOF'
{"result":{"language":"en"},"transcription":[{"text":" Hello","offsets":{"from":0,"to":1200}},{"text":" world.","offsets":{"from":1200,"to":2000}}]}
EOF
`

func writeFakeWhisper(t *testing.T, script string) WhisperLocalConfig {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script binary")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "whisper-cli")
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	model := filepath.Join(dir, "ggml-base.bin")
	if err := os.WriteFile(model, []byte("model"), 0644); err != nil {
		t.Fatal(err)
	}
	return WhisperLocalConfig{BinPath: bin, ModelPath: model}
}

func TestWhisperLocal_Transcribe(t *testing.T) {
	w, err := NewWhisperLocal(writeFakeWhisper(t, fakeWhisperScript))
	if err != nil {
		t.Fatalf("NewWhisperLocal: %v", err)
	}
	if !w.IsReady() {
		t.Fatal("IsReady() = false")
	}
	if w.DisplayName() != "Whisper Local (ggml-base)" {
		t.Errorf("DisplayName() = %q", w.DisplayName())
	}

	res, err := w.Transcribe(context.Background(), makeSpeech(1600, 0.1), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "Hello world." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q", res.Language)
	}
	if len(res.Segments) != 2 || res.Segments[1].Start != 1200*time.Millisecond || res.Segments[1].End != 2*time.Second {
		t.Errorf("Segments = %+v", res.Segments)
	}
}

func TestWhisperLocal_CommandFailure(t *testing.T) {
	w, err := NewWhisperLocal(writeFakeWhisper(t, "#!/bin/sh\necho 'model corrupt' >&2\nexit 3\n"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = w.Transcribe(context.Background(), makeSpeech(1600, 0.1), "en")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "model corrupt") {
		t.Errorf("error %q does not include stderr", got)
	}
}

func TestWhisperLocal_MissingModel(t *testing.T) {
	w, err := NewWhisperLocal(WhisperLocalConfig{
		BinPath:   "/nonexistent/whisper-cli",
		ModelPath: filepath.Join(t.TempDir(), "missing.bin"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.IsReady() {
		t.Error("IsReady() = true without model")
	}
	if _, err := w.Transcribe(context.Background(), nil, ""); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}
