package livecaption

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.aimuz.me/autocap/audiocapture"
	"go.aimuz.me/autocap/stt"
	"go.aimuz.me/autocap/stt/stttest"
	"go.aimuz.me/autocap/subtitle"
)

// failingSource refuses to start.
type failingSource struct{ err error }

func (s failingSource) Start(context.Context, audiocapture.Handler) error { return s.err }
func (failingSource) Stop() error                                         { return nil }
func (failingSource) IsCapturing() bool                                   { return false }
func (failingSource) Description() string                                 { return "failing" }
func (failingSource) Format() audiocapture.Format                         { return audiocapture.DefaultFormat() }

// blockingRecognizer holds every frame until release is closed.
type blockingRecognizer struct {
	release chan struct{}
	events  chan stt.Event
}

func newBlockingRecognizer() *blockingRecognizer {
	return &blockingRecognizer{release: make(chan struct{}), events: make(chan stt.Event)}
}

func (r *blockingRecognizer) AcceptWaveform([]byte) bool {
	<-r.release
	return false
}
func (r *blockingRecognizer) Events() <-chan stt.Event { return r.events }
func (r *blockingRecognizer) IsInitialized() bool      { return true }
func (r *blockingRecognizer) Close() error             { return nil }

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.Source == nil {
		cfg.Source = audiocapture.NewSilence(audiocapture.DefaultFormat())
	}
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

// waitStatus reads statuses until one contains msg.
func waitStatus(t *testing.T, svc *Service, msg string) Status {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case st := <-svc.Statuses():
			if strings.Contains(st.Message, msg) {
				return st
			}
		case <-timeout:
			t.Fatalf("no status containing %q", msg)
			return Status{}
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewValidation(t *testing.T) {
	rec := stttest.New(stttest.Config{})
	src := audiocapture.NewSilence(audiocapture.DefaultFormat())

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no source", Config{Recognizer: rec}},
		{"no recognizer", Config{Source: src}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestStartStopIdempotent(t *testing.T) {
	svc := newTestService(t, Config{Recognizer: stttest.New(stttest.Config{})})

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() before Start error = %v", err)
	}
	waitStatus(t, svc, "not capturing")

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	waitStatus(t, svc, "already capturing")
	if !svc.Status().Active {
		t.Error("Status().Active = false while capturing")
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	waitStatus(t, svc, "not capturing")
	if svc.Status().Active {
		t.Error("Status().Active = true after Stop")
	}
}

func TestStartNotReady(t *testing.T) {
	svc := newTestService(t, Config{Recognizer: stttest.New(stttest.Config{NotReady: true})})

	err := svc.Start(context.Background())
	if !errors.Is(err, stt.ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
	if svc.Status().Active {
		t.Error("service is active after failed start")
	}
}

func TestStartSourceFailure(t *testing.T) {
	errBoom := errors.New("boom")
	svc := newTestService(t, Config{
		Source:     failingSource{err: errBoom},
		Recognizer: stttest.New(stttest.Config{}),
	})

	err := svc.Start(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("Start() error = %v, want %v", err, errBoom)
	}
	if !strings.Contains(err.Error(), "start audio source") {
		t.Errorf("Start() error = %q, want it to name the source", err)
	}
	st := waitStatus(t, svc, "could not start capture")
	if !errors.Is(st.Err, errBoom) {
		t.Errorf("status error = %v, want %v", st.Err, errBoom)
	}
	if svc.Status().Active {
		t.Error("service is active after failed start")
	}
}

func TestStopFlushesAndHides(t *testing.T) {
	rec := stttest.New(stttest.Config{PartialEvery: 1})
	sink := NewChannelSink(1024)
	svc := newTestService(t, Config{
		Recognizer: rec,
		Sink:       sink,
		Segmenter:  subtitle.Config{AutoPunctuate: true},
	})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "frames", func() bool { return rec.Frames() >= 3 })
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if rec.Finished() != 1 {
		t.Errorf("Finish called %d times, want 1", rec.Finished())
	}
	lines := svc.Lines()
	if len(lines) != 1 || lines[0].Text != "Hello world." {
		t.Fatalf("Lines() = %+v, want one line %q", lines, "Hello world.")
	}

	var sawLive, sawLine bool
	var last SinkEvent
	for len(sink.Events()) > 0 {
		last = <-sink.Events()
		switch last.Kind {
		case SinkLiveText:
			sawLive = true
		case SinkLine:
			sawLine = true
		}
	}
	if !sawLive || !sawLine {
		t.Errorf("sink saw live=%v line=%v, want both", sawLive, sawLine)
	}
	if last.Kind != SinkHide {
		t.Errorf("last sink event = %v, want hide", last.Kind)
	}
	waitStatus(t, svc, "stopped with 1 lines")
}

func TestFinalOrdering(t *testing.T) {
	rec := stttest.New(stttest.Config{Buffer: 8})
	svc := newTestService(t, Config{
		Recognizer: rec,
		Segmenter:  subtitle.Config{MaxLineCharacters: 1},
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	const n = 1000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			rec.Push(stt.Final{Text: fmt.Sprintf("w%d", i)})
			if i%7 == 0 {
				rec.Push(stt.Partial{Text: "noise"})
			}
		}
	}()
	wg.Wait()

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	lines := svc.Lines()
	if len(lines) != n {
		t.Fatalf("got %d lines, want %d", len(lines), n)
	}
	for i, l := range lines {
		if want := fmt.Sprintf("w%d", i); l.Text != want || l.Index != i+1 {
			t.Fatalf("line %d = %+v, want index %d text %q", i, l, i+1, want)
		}
		if i > 0 && l.Start < lines[i-1].Start {
			t.Fatalf("line %d starts before line %d", i, i-1)
		}
	}
}

// slowRecognizer takes delay per frame and counts what it was given.
type slowRecognizer struct {
	delay  time.Duration
	frames atomic.Int64
	events chan stt.Event
}

func (r *slowRecognizer) AcceptWaveform([]byte) bool {
	time.Sleep(r.delay)
	r.frames.Add(1)
	return false
}
func (r *slowRecognizer) Events() <-chan stt.Event { return r.events }
func (r *slowRecognizer) IsInitialized() bool      { return true }
func (r *slowRecognizer) Close() error             { return nil }

// liveSource hides the waiting capability of the wrapped source, like a
// microphone that cannot be paused.
type liveSource struct{ audiocapture.Source }

func pcmReader(frames int) *bytes.Reader {
	size := audiocapture.DefaultFormat().FrameSize(audiocapture.DefaultFrameDuration)
	return bytes.NewReader(make([]byte, frames*size))
}

func waitEOF(t *testing.T, src *audiocapture.ReaderSource, timeout time.Duration) {
	t.Helper()
	select {
	case <-src.Done():
	case <-time.After(timeout):
		t.Fatal("source did not reach EOF")
	}
}

func TestFastFileForwardsEveryFrame(t *testing.T) {
	const frames = 500
	src := audiocapture.NewReaderSource(pcmReader(frames), audiocapture.ReaderConfig{})
	rec := &slowRecognizer{delay: time.Millisecond, events: make(chan stt.Event)}
	svc := newTestService(t, Config{Source: src, Recognizer: rec, FrameQueue: 2})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitEOF(t, src, 10*time.Second)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	st := svc.Status()
	if st.FramesDropped != 0 {
		t.Errorf("FramesDropped = %d, want 0", st.FramesDropped)
	}
	if st.FramesForwarded != frames || rec.frames.Load() != frames {
		t.Errorf("forwarded %d, recognizer got %d, want %d", st.FramesForwarded, rec.frames.Load(), frames)
	}
}

func TestLiveSourceDropsFrames(t *testing.T) {
	const frames = 100
	src := audiocapture.NewReaderSource(pcmReader(frames), audiocapture.ReaderConfig{})

	rec := newBlockingRecognizer()
	svc := newTestService(t, Config{Source: liveSource{src}, Recognizer: rec, FrameQueue: 2})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitEOF(t, src, 2*time.Second)
	if got := svc.Status().FramesDropped; got < frames-3 {
		t.Errorf("FramesDropped = %d, want at least %d", got, frames-3)
	}

	close(rec.release)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	st := svc.Status()
	if st.FramesForwarded+st.FramesDropped != frames {
		t.Errorf("forwarded %d + dropped %d != %d", st.FramesForwarded, st.FramesDropped, frames)
	}
}

// lateRecognizer delivers a trailing final delay after Finish is called.
type lateRecognizer struct {
	*stttest.Scripted
	delay         time.Duration
	finishTimeout time.Duration
	text          string
}

func (r *lateRecognizer) Finish(ctx context.Context) error {
	pushed := make(chan struct{})
	go func() {
		time.Sleep(r.delay)
		r.Push(stt.Final{Text: r.text})
		close(pushed)
	}()
	select {
	case <-pushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *lateRecognizer) FinishTimeout() time.Duration { return r.finishTimeout }

func TestStopWaitsForTrailingFinal(t *testing.T) {
	tests := []struct {
		name          string
		finishTimeout time.Duration
		stop          func(*Service) error
	}{
		{
			name:          "recognizer finish timeout extends the drain",
			finishTimeout: 5 * time.Second,
			stop:          (*Service).Stop,
		},
		{
			name: "stop context without deadline",
			stop: func(s *Service) error { return s.StopContext(context.Background()) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &lateRecognizer{
				Scripted:      stttest.New(stttest.Config{}),
				delay:         100 * time.Millisecond,
				finishTimeout: tt.finishTimeout,
				text:          "trailing words",
			}
			svc := newTestService(t, Config{
				Recognizer:       rec,
				StopDrainTimeout: 10 * time.Millisecond,
				Segmenter:        subtitle.Config{AutoPunctuate: true},
			})
			if err := svc.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if err := tt.stop(svc); err != nil {
				t.Fatalf("stop error = %v", err)
			}

			lines := svc.Lines()
			if len(lines) != 1 || lines[0].Text != "Trailing words." {
				t.Fatalf("Lines() = %+v, want the trailing final", lines)
			}
		})
	}
}

func TestFinalAfterDrainTimeoutBecomesLine(t *testing.T) {
	rec := &lateRecognizer{
		Scripted: stttest.New(stttest.Config{}),
		delay:    200 * time.Millisecond,
		text:     "late words",
	}
	svc := newTestService(t, Config{
		Recognizer:       rec,
		StopDrainTimeout: 20 * time.Millisecond,
		Segmenter:        subtitle.Config{AutoPunctuate: true},
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := len(svc.Lines()); n != 0 {
		t.Fatalf("got %d lines before the final arrived", n)
	}

	waitFor(t, "late final", func() bool {
		lines := svc.Lines()
		return len(lines) == 1 && lines[0].Text == "Late words."
	})
}

func TestApplyCoalescesPartials(t *testing.T) {
	sink := NewChannelSink(16)
	svc := &Service{
		segmenter: subtitle.NewSegmenter(subtitle.Config{MaxLineCharacters: 1}),
		sink:      sink,
		statuses:  make(chan Status, 4),
	}
	svc.segmenter.OnPartial(sink.ShowLiveText)
	svc.segmenter.OnLine(sink.ShowCompletedLine)

	tests := []struct {
		name   string
		first  stt.Event
		queued []stt.Event
		want   []string
	}{
		{
			name:   "final supersedes partials",
			first:  stt.Partial{Text: "a"},
			queued: []stt.Event{stt.Partial{Text: "a b"}, stt.Partial{Text: "a b c"}, stt.Final{Text: "done"}},
			want:   []string{"line:done"},
		},
		{
			name:   "newest partial wins",
			first:  stt.Partial{Text: "x"},
			queued: []stt.Event{stt.Partial{Text: "x y"}},
			want:   []string{"live:x y"},
		},
		{
			name:   "error does not swallow partial",
			first:  stt.Partial{Text: "kept"},
			queued: []stt.Event{stt.Error{Message: "oops"}},
			want:   []string{"live:kept"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := make(chan stt.Event, len(tt.queued))
			for _, ev := range tt.queued {
				events <- ev
			}
			if !svc.apply(tt.first, events) {
				t.Fatal("apply() reported a closed stream")
			}

			var got []string
			for len(sink.Events()) > 0 {
				ev := <-sink.Events()
				switch ev.Kind {
				case SinkLiveText:
					got = append(got, "live:"+ev.Text)
				case SinkLine:
					got = append(got, "line:"+ev.Line.Text)
				}
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("sink got %v, want %v", got, tt.want)
			}
			if len(events) != 0 {
				t.Errorf("%d events left unapplied", len(events))
			}
		})
	}
}

func TestRecognizerErrorPublishesStatus(t *testing.T) {
	rec := stttest.New(stttest.Config{})
	svc := newTestService(t, Config{Recognizer: rec})

	rec.Push(stt.Error{Message: "connection reset"})
	st := waitStatus(t, svc, "recognition error")
	if st.Err == nil || st.Err.Error() != "connection reset" {
		t.Errorf("status error = %v, want connection reset", st.Err)
	}
}

func TestSnapshot(t *testing.T) {
	rec := stttest.New(stttest.Config{})
	svc := newTestService(t, Config{
		Recognizer: rec,
		Segmenter:  subtitle.Config{AutoPunctuate: true},
	})

	rec.Push(stt.Final{Text: "the weather is lovely today and we are going for a long walk"})
	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	snap := svc.Snapshot("")
	if !strings.HasPrefix(snap.Title, "Session ") {
		t.Errorf("Title = %q, want default title", snap.Title)
	}
	if snap.LineCount != 1 || snap.SubtitleData != svc.ExportSRT() {
		t.Errorf("Snapshot() = %+v, want one line matching ExportSRT", snap)
	}
	if snap.AudioSource != "silence" {
		t.Errorf("AudioSource = %q, want silence", snap.AudioSource)
	}
	if snap.Language != "en" {
		t.Errorf("Language = %q, want en", snap.Language)
	}

	svc.cfg.Language = "de"
	if got := svc.Snapshot("x").Language; got != "de" {
		t.Errorf("configured Language = %q, want de", got)
	}
}

func TestExportFile(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := stttest.New(stttest.Config{})
	svc := newTestService(t, Config{
		Recognizer: rec,
		Clock:      func() time.Time { return fixed },
	})
	dir := t.TempDir()

	if _, err := svc.ExportFile(dir, subtitle.FormatSRT); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("ExportFile() on empty = %v, want ErrNothingToExport", err)
	}
	waitStatus(t, svc, "nothing to export")

	rec.Push(stt.Final{Text: "hello"})
	if err := svc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	tests := []struct {
		format subtitle.Format
		name   string
		want   string
	}{
		{subtitle.FormatSRT, "autocap_20260102_030405.srt", svc.ExportSRT()},
		{subtitle.FormatVTT, "autocap_20260102_030405.vtt", svc.ExportVTT()},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			path, err := svc.ExportFile(dir, tt.format)
			if err != nil {
				t.Fatalf("ExportFile() error = %v", err)
			}
			if filepath.Base(path) != tt.name {
				t.Errorf("file name = %q, want %q", filepath.Base(path), tt.name)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.want {
				t.Errorf("content = %q, want %q", data, tt.want)
			}
		})
	}

	if _, err := svc.ExportFile(dir, "ass"); !errors.Is(err, subtitle.ErrUnknownFormat) {
		t.Errorf("ExportFile(ass) error = %v, want ErrUnknownFormat", err)
	}
}

func TestClearAndClose(t *testing.T) {
	rec := stttest.New(stttest.Config{})
	svc, err := New(Config{
		Source:     audiocapture.NewSilence(audiocapture.DefaultFormat()),
		Recognizer: rec,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec.Push(stt.Final{Text: "one"})
	if err := svc.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := svc.Clear(); err != nil {
		t.Fatal(err)
	}
	if n := len(svc.Lines()); n != 0 {
		t.Errorf("Lines() after Clear = %d, want 0", n)
	}
	if svc.ExportSRT() != "" {
		t.Error("ExportSRT() after Clear is not empty")
	}

	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := svc.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush() after Close = %v, want ErrClosed", err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
