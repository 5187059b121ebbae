package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/autocap/stt"
)

type fakeConn struct {
	mu      sync.Mutex
	packets [][]float32
	sent    []any
	onSend  func(v any)
	sendErr error

	msgs      chan Event
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan Event, 16)}
}

func (f *fakeConn) SendAudio(samples []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.packets = append(f.packets, append([]float32(nil), samples...))
	return nil
}

func (f *fakeConn) SendEvent(v any) error {
	f.mu.Lock()
	f.sent = append(f.sent, v)
	onSend := f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(v)
	}
	return nil
}

func (f *fakeConn) Messages() <-chan Event { return f.msgs }
func (f *fakeConn) Errors() <-chan error   { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.msgs) })
	return nil
}

func (f *fakeConn) packetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.packets)
}

func waitEvent(t *testing.T, r *Recognizer) stt.Event {
	t.Helper()
	select {
	case ev := <-r.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestRecognizer_SendsTwentyMillisecondStereoPackets(t *testing.T) {
	fc := newFakeConn()
	r := newRecognizer(fc, 16000)
	defer r.Close()

	// 100ms of 16kHz mono PCM in 20ms frames.
	frame := make([]byte, 320*2)
	for range 5 {
		if r.AcceptWaveform(frame) {
			t.Error("AcceptWaveform reported true")
		}
	}

	// The resampler holds back one input sample, so the fifth packet is incomplete.
	if got := fc.packetCount(); got != 4 {
		t.Fatalf("sent %d packets, want 4", got)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for i, p := range fc.packets {
		if len(p) != 1920 {
			t.Errorf("packet %d has %d samples, want 1920", i, len(p))
		}
	}
}

func TestRecognizer_DeltasAccumulateIntoPartials(t *testing.T) {
	fc := newFakeConn()
	r := newRecognizer(fc, 16000)
	defer r.Close()

	fc.msgs <- SpeechStartedEvent{ItemID: "a"}
	fc.msgs <- TranscriptDeltaEvent{ItemID: "a", Delta: "Hello"}
	fc.msgs <- TranscriptDeltaEvent{ItemID: "a", Delta: " world"}
	fc.msgs <- TranscriptEvent{ItemID: "a", Transcript: "Hello world."}

	want := []stt.Event{
		stt.Partial{Text: "Hello"},
		stt.Partial{Text: "Hello world"},
		stt.Final{Text: "Hello world."},
	}
	for i, w := range want {
		ev := waitEvent(t, r)
		switch w := w.(type) {
		case stt.Partial:
			if p, ok := ev.(stt.Partial); !ok || p.Text != w.Text {
				t.Errorf("event %d = %#v, want partial %q", i, ev, w.Text)
			}
		case stt.Final:
			if f, ok := ev.(stt.Final); !ok || f.Text != w.Text {
				t.Errorf("event %d = %#v, want final %q", i, ev, w.Text)
			}
		}
	}
}

func TestRecognizer_FinishWaitsForOutstandingItems(t *testing.T) {
	fc := newFakeConn()
	fc.onSend = func(v any) {
		if c, ok := v.(BufferCommit); ok && c.Type == ClientBufferCommit {
			fc.msgs <- CommittedEvent{ItemID: "b"}
			fc.msgs <- TranscriptEvent{ItemID: "b", Transcript: "tail words"}
		}
	}
	r := newRecognizer(fc, 16000)
	defer r.Close()

	fc.msgs <- SpeechStartedEvent{ItemID: "b"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	select {
	case ev := <-r.Events():
		if f, ok := ev.(stt.Final); !ok || f.Text != "tail words" {
			t.Errorf("event = %#v, want final tail words", ev)
		}
	default:
		t.Fatal("final not queued when Finish returned")
	}
}

func TestRecognizer_FinishWithEmptyBuffer(t *testing.T) {
	fc := newFakeConn()
	fc.onSend = func(v any) {
		e := ErrorEvent{}
		e.Error.Code = errCommitEmpty
		e.Error.Message = "buffer too small"
		fc.msgs <- e
	}
	r := newRecognizer(fc, 16000)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	select {
	case ev := <-r.Events():
		t.Errorf("unexpected event %#v", ev)
	default:
	}
}

func TestRecognizer_ErrorsBecomeErrorEvents(t *testing.T) {
	fc := newFakeConn()
	r := newRecognizer(fc, 16000)
	defer r.Close()

	e := ErrorEvent{}
	e.Error.Code = "rate_limited"
	e.Error.Message = "slow down"
	fc.msgs <- e

	ev := waitEvent(t, r)
	if se, ok := ev.(stt.Error); !ok || se.Message != "api error: slow down (rate_limited)" {
		t.Errorf("event = %#v", ev)
	}
}

func TestRecognizer_SendFailureReportedOnce(t *testing.T) {
	fc := newFakeConn()
	fc.sendErr = errors.New("track gone")
	r := newRecognizer(fc, 16000)
	defer r.Close()

	frame := make([]byte, 320*2)
	for range 10 {
		r.AcceptWaveform(frame)
	}

	if _, ok := waitEvent(t, r).(stt.Error); !ok {
		t.Fatal("expected error event")
	}
	select {
	case ev := <-r.Events():
		t.Errorf("second event %#v, want one error only", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecognizer_CloseClosesEvents(t *testing.T) {
	r := newRecognizer(newFakeConn(), 16000)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-r.Events(); ok {
		t.Error("Events still open")
	}
	if err := r.Finish(context.Background()); err == nil {
		t.Error("Finish after Close should fail")
	}
}

func TestDial_RequiresKey(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	if !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}
