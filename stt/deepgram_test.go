package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func fakeDeepgram(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("encoding") != "linear16" || q.Get("sample_rate") != "16000" || q.Get("interim_results") != "true" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		reply := func(text string, final, fromFinalize bool) {
			msg := map[string]any{
				"type":          "Results",
				"is_final":      final,
				"from_finalize": fromFinalize,
				"channel": map[string]any{
					"alternatives": []map[string]any{{"transcript": text, "confidence": 0.9}},
				},
			}
			_ = conn.WriteJSON(msg)
		}

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				reply("hel", false, false)
				continue
			}
			var ctl deepgramControl
			_ = json.Unmarshal(data, &ctl)
			switch ctl.Type {
			case "Finalize":
				reply("hello there", true, true)
			case "CloseStream":
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgram_PartialAndFinalize(t *testing.T) {
	srv := fakeDeepgram(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := DialDeepgram(ctx, DeepgramConfig{APIKey: "test-key", URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("DialDeepgram: %v", err)
	}
	defer d.Close()

	if d.AcceptWaveform(speechFrame()) {
		t.Error("streaming recognizer should not report completed utterances")
	}
	ev := nextEvent(t, d.Events())
	if p, ok := ev.(Partial); !ok || p.Text != "hel" {
		t.Fatalf("event = %#v, want Partial hel", ev)
	}

	if err := d.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	ev = nextEvent(t, d.Events())
	if f, ok := ev.(Final); !ok || f.Text != "hello there" {
		t.Fatalf("event = %#v, want Final hello there", ev)
	}

	if err := d.Close(); err != nil {
		t.Logf("Close: %v", err)
	}
	for ev := range d.Events() {
		if e, ok := ev.(Error); ok {
			t.Errorf("unexpected error after close: %v", e)
		}
	}
}

func TestDeepgram_RejectsBadKey(t *testing.T) {
	srv := fakeDeepgram(t)

	_, err := DialDeepgram(context.Background(), DeepgramConfig{APIKey: "wrong", URL: wsURL(srv)})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error %q does not mention status", err)
	}
}

func TestDeepgram_RequiresKey(t *testing.T) {
	_, err := DialDeepgram(context.Background(), DeepgramConfig{})
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}
