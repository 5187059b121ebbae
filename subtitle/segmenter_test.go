package subtitle

import (
	"strings"
	"testing"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig(maxChars int, maxDur time.Duration) Config {
	cfg := DefaultConfig()
	cfg.MaxLineCharacters = maxChars
	cfg.MaxLineDuration = maxDur
	return cfg
}

func TestSegmenter_FlushIsIdempotent(t *testing.T) {
	s := NewSegmenter(testConfig(50, time.Minute))

	s.Flush()
	s.Flush()
	if got := s.Store().Len(); got != 0 {
		t.Fatalf("Len() after flushing empty buffer = %d, want 0", got)
	}

	s.AcceptFinal("hi there")
	s.Flush()
	s.Flush()
	if got := s.Store().Len(); got != 1 {
		t.Fatalf("Len() after double flush = %d, want 1", got)
	}
}

func TestSegmenter_LengthTrigger(t *testing.T) {
	s := NewSegmenter(testConfig(5, time.Minute))

	s.AcceptFinal("test")
	if got := s.Store().Len(); got != 0 {
		t.Fatalf("Len() after %q = %d, want 0", "test", got)
	}

	s.AcceptFinal("hello")
	lines := s.Lines()
	if len(lines) < 1 {
		t.Fatal("expected at least one line after length trigger")
	}
	if lines[0].Text != "Test hello." {
		t.Errorf("Text = %q, want %q", lines[0].Text, "Test hello.")
	}
}

func TestSegmenter_DurationTrigger(t *testing.T) {
	s := NewSegmenter(testConfig(1000, 100*time.Millisecond))

	s.AcceptFinal("test")
	time.Sleep(150 * time.Millisecond)
	s.AcceptFinal("another")

	lines := s.Lines()
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Text != "Test another." {
		t.Errorf("Text = %q, want %q", lines[0].Text, "Test another.")
	}
	if lines[0].Duration() < 100*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 100ms", lines[0].Duration())
	}
}

func TestSegmenter_PauseTrigger(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig(1000, time.Minute)
	cfg.PauseThreshold = 800 * time.Millisecond
	s := NewSegmenter(cfg, WithClock(clock.Now))

	s.AcceptFinal("first thought")
	clock.Advance(300 * time.Millisecond)
	s.AcceptFinal("continues")
	clock.Advance(time.Second)
	s.AcceptFinal("second thought")

	lines := s.Lines()
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Text != "First thought continues." {
		t.Errorf("Text = %q", lines[0].Text)
	}
	if lines[0].End != 300*time.Millisecond {
		t.Errorf("End = %v, want 300ms (time of last fragment)", lines[0].End)
	}
	if got := s.Pending(); got != "second thought" {
		t.Errorf("Pending() = %q, want %q", got, "second thought")
	}
}

func TestSegmenter_Normalization(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		punctuate  bool
		capitalize bool
		lang       language.Tag
		want       string
	}{
		{"plain", "hello world", true, true, language.Und, "Hello world."},
		{"question", "is it raining?", true, true, language.Und, "Is it raining?"},
		{"exclamation", "wow!", true, true, language.Und, "Wow!"},
		{"period kept", "done.", true, true, language.Und, "Done."},
		{"accented", "élan vital", true, true, language.Und, "Élan vital."},
		{"digit first", "3 apples", true, true, language.Und, "3 apples."},
		{"turkish dotted i", "istanbul", true, true, language.Turkish, "İstanbul."},
		{"ellipsis", "wait for it…", true, true, language.Und, "Wait for it…."},
		{"cjk full stop", "你好。", true, true, language.Chinese, "你好。."},
		{"capitalize only", "hello world", false, true, language.Und, "Hello world"},
		{"untouched", "hello world", false, false, language.Und, "hello world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(1000, time.Minute)
			cfg.AutoPunctuate = tt.punctuate
			cfg.AutoCapitalize = tt.capitalize
			cfg.Language = tt.lang
			s := NewSegmenter(cfg)

			s.AcceptFinal(tt.text)
			s.Flush()

			lines := s.Lines()
			if len(lines) != 1 {
				t.Fatalf("got %d lines, want 1", len(lines))
			}
			if lines[0].Text != tt.want {
				t.Errorf("Text = %q, want %q", lines[0].Text, tt.want)
			}
		})
	}
}

func TestSegmenter_PunctuationLaw(t *testing.T) {
	inputs := []string{"hello", "what now", "ok then!", "über alles", "why?", "x", "wait…", "done。"}
	s := NewSegmenter(testConfig(1000, time.Minute))
	for _, in := range inputs {
		s.AcceptFinal(in)
		s.Flush()
	}

	for _, l := range s.Lines() {
		first, _ := utf8.DecodeRuneInString(l.Text)
		if !unicode.IsUpper(first) {
			t.Errorf("%q does not start with an uppercase letter", l.Text)
		}
		if !strings.HasSuffix(l.Text, ".") && !strings.HasSuffix(l.Text, "!") && !strings.HasSuffix(l.Text, "?") {
			t.Errorf("%q does not end with sentence punctuation", l.Text)
		}
	}
}

func TestSegmenter_CollapsesWhitespace(t *testing.T) {
	s := NewSegmenter(testConfig(1000, time.Minute))

	var partials []string
	s.OnPartial(func(text string) { partials = append(partials, text) })
	s.AcceptPartial("one\n\ntwo")
	s.AcceptFinal("  first\n\nsecond\t third ")
	s.AcceptFinal("\n")
	s.Flush()

	if len(partials) != 1 || partials[0] != "one two" {
		t.Errorf("partials = %q, want [\"one two\"]", partials)
	}
	lines := s.Lines()
	if len(lines) != 1 || lines[0].Text != "First second third." {
		t.Fatalf("Lines() = %+v, want one line %q", lines, "First second third.")
	}

	srt := s.Store().ExportSRT()
	if strings.Count(srt, "\n\n") != 1 {
		t.Errorf("ExportSRT() has a blank line inside the cue: %q", srt)
	}
}

func TestSegmenter_ClearResetsFully(t *testing.T) {
	s := NewSegmenter(testConfig(5, time.Minute))

	s.AcceptFinal("hello world")
	s.AcceptFinal("abc")
	s.Clear()

	if got := s.Store().Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
	if got := s.Pending(); got != "" {
		t.Errorf("Pending() after Clear = %q, want empty", got)
	}

	s.AcceptFinal("again and again")
	lines := s.Lines()
	if len(lines) != 1 || lines[0].Index != 1 {
		t.Fatalf("first line after Clear = %+v, want index 1", lines)
	}
}

func TestSegmenter_PartialDoesNotMutate(t *testing.T) {
	s := NewSegmenter(testConfig(5, time.Minute))

	var partials []string
	s.OnPartial(func(text string) { partials = append(partials, text) })

	for _, p := range []string{"hel", "hello", "hello wor", "  ", "hello world and more"} {
		s.AcceptPartial(p)
	}

	if got := s.Store().Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
	if got := s.Pending(); got != "" {
		t.Errorf("Pending() = %q, want empty", got)
	}
	if len(partials) != 4 {
		t.Errorf("partial callbacks = %d, want 4 (blank ignored)", len(partials))
	}
}

func TestSegmenter_BlankFinalIgnored(t *testing.T) {
	s := NewSegmenter(testConfig(1, time.Minute))
	s.AcceptFinal("")
	s.AcceptFinal("   \t")
	s.Flush()
	if got := s.Store().Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestSegmenter_Scenario(t *testing.T) {
	s := NewSegmenter(testConfig(10, time.Minute))

	s.AcceptFinal("hello")
	s.AcceptFinal("world")
	s.AcceptFinal("test")

	lines := s.Lines()
	if len(lines) < 1 {
		t.Fatal("expected at least one line")
	}
	if lines[0].Text != "Hello world." {
		t.Errorf("Text = %q, want %q", lines[0].Text, "Hello world.")
	}
	if got := s.Pending(); got != "test" {
		t.Errorf("Pending() = %q, want %q", got, "test")
	}

	srt := s.Store().ExportSRT()
	if srt == "" || !strings.Contains(srt, "-->") {
		t.Errorf("ExportSRT() = %q, want cues", srt)
	}
}

func TestSegmenter_SessionRelativeTimestamps(t *testing.T) {
	clock := newFakeClock()
	s := NewSegmenter(testConfig(1000, time.Minute), WithClock(clock.Now))
	s.SetEpoch(clock.Now())

	var got []Line
	s.OnLine(func(l Line) { got = append(got, l) })

	clock.Advance(2 * time.Second)
	s.AcceptFinal("one")
	clock.Advance(1500 * time.Millisecond)
	s.Flush()

	clock.Advance(500 * time.Millisecond)
	s.AcceptFinal("two")
	clock.Advance(time.Second)
	s.Flush()

	want := []Line{
		{Index: 1, Start: 2 * time.Second, End: 3500 * time.Millisecond, Text: "One."},
		{Index: 2, Start: 4 * time.Second, End: 5 * time.Second, Text: "Two."},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].End {
			t.Errorf("line %d starts before previous line ends", i)
		}
	}
}

func TestSegmenter_StartBeforeEpochClamps(t *testing.T) {
	clock := newFakeClock()
	s := NewSegmenter(testConfig(1000, time.Minute), WithClock(clock.Now))
	s.AcceptFinal("early")
	s.SetEpoch(clock.Now().Add(time.Second))
	clock.Advance(500 * time.Millisecond)
	s.Flush()

	l := s.Lines()[0]
	if l.Start != 0 || l.End != 0 {
		t.Errorf("Start, End = %v, %v; want both clamped to 0", l.Start, l.End)
	}
}
