package subtitle

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// Config controls when pending text becomes a line and how it is normalized.
type Config struct {
	// MaxLineCharacters flushes the line once the joined text reaches this
	// many runes. Zero disables the length trigger.
	MaxLineCharacters int
	// MaxLineDuration flushes the line once this much time has passed since
	// its first fragment. Zero disables the duration trigger.
	MaxLineDuration time.Duration
	// PauseThreshold flushes the pending line before appending a fragment
	// that arrives at least this long after the previous one. Zero disables it.
	PauseThreshold time.Duration
	// AutoPunctuate capitalizes the first letter and terminates the line
	// with a period when it has no sentence-ending mark.
	AutoPunctuate bool
	// AutoCapitalize capitalizes the first letter even when AutoPunctuate is off.
	AutoCapitalize bool
	// Language selects the casing rules. language.Und uses the root rules.
	Language language.Tag
}

// DefaultConfig returns the default segmentation settings.
func DefaultConfig() Config {
	return Config{
		MaxLineCharacters: 50,
		MaxLineDuration:   2500 * time.Millisecond,
		AutoPunctuate:     true,
		AutoCapitalize:    true,
		Language:          language.Und,
	}
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) {
		s.now = now
	}
}

// WithStore makes the segmenter append completed lines to store.
func WithStore(store *Store) Option {
	return func(s *Segmenter) {
		s.store = store
	}
}

// Segmenter accumulates final recognition results into subtitle lines.
//
// Final text is joined with single spaces until the flush policy holds, then
// the pending text is normalized, stamped relative to the session epoch and
// appended to the Store. Partial text is only passed on to observers.
// Callbacks run with the segmenter locked and must not call back into it.
type Segmenter struct {
	mu    sync.Mutex
	cfg   Config
	norm  *normalizer
	now   func() time.Time
	store *Store

	epoch        time.Time
	fragments    []string
	length       int // runes in the joined fragments
	segmentStart time.Time
	lastFinal    time.Time

	onLine    []func(Line)
	onPartial []func(string)
}

// NewSegmenter creates a segmenter. The session epoch starts at creation
// time and can be moved with SetEpoch.
func NewSegmenter(cfg Config, opts ...Option) *Segmenter {
	s := &Segmenter{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewStore()
	}
	s.norm = newNormalizer(cfg.Language, cfg.AutoPunctuate || cfg.AutoCapitalize, cfg.AutoPunctuate)
	s.epoch = s.now()
	return s
}

// Store returns the store receiving completed lines.
func (s *Segmenter) Store() *Store {
	return s.store
}

// SetEpoch sets the instant line timestamps are measured from.
func (s *Segmenter) SetEpoch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = t
}

// Epoch returns the current session epoch.
func (s *Segmenter) Epoch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// OnLine registers a callback for every completed line.
func (s *Segmenter) OnLine(fn func(Line)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLine = append(s.onLine, fn)
}

// OnPartial registers a callback for partial text.
func (s *Segmenter) OnPartial(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPartial = append(s.onPartial, fn)
}

// AcceptFinal appends authoritative text to the pending line and flushes it
// when the policy holds. Blank text is ignored. Runs of whitespace, including
// line breaks, become single spaces.
func (s *Segmenter) AcceptFinal(text string) {
	text = collapseSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cfg.PauseThreshold > 0 && len(s.fragments) > 0 && now.Sub(s.lastFinal) >= s.cfg.PauseThreshold {
		s.flushLocked(s.lastFinal)
	}

	if len(s.fragments) == 0 {
		s.segmentStart = now
	} else {
		s.length++ // separator
	}
	s.fragments = append(s.fragments, text)
	s.length += utf8.RuneCountInString(text)
	s.lastFinal = now

	if s.shouldFlush(now) {
		s.flushLocked(now)
	}
}

// AcceptPartial passes provisional text to the partial observers.
// It never changes pending or completed lines. Blank text is ignored.
func (s *Segmenter) AcceptPartial(text string) {
	text = collapseSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fn := range s.onPartial {
		fn(text)
	}
}

// Flush completes the pending line now. It does nothing when no text is pending.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked(s.now())
}

// Clear drops pending text and every stored line, and restarts line numbering.
func (s *Segmenter) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.store.Clear()
}

// Pending returns the text accepted since the last flush.
func (s *Segmenter) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.fragments, " ")
}

// Lines returns a snapshot of the completed lines.
func (s *Segmenter) Lines() []Line {
	return s.store.Lines()
}

func (s *Segmenter) shouldFlush(now time.Time) bool {
	if s.cfg.MaxLineCharacters > 0 && s.length >= s.cfg.MaxLineCharacters {
		return true
	}
	if s.cfg.MaxLineDuration > 0 && now.Sub(s.segmentStart) >= s.cfg.MaxLineDuration {
		return true
	}
	return false
}

func (s *Segmenter) flushLocked(end time.Time) {
	if len(s.fragments) == 0 {
		return
	}

	start := s.segmentStart.Sub(s.epoch)
	if start < 0 {
		start = 0
	}
	stop := end.Sub(s.epoch)
	if stop < start {
		stop = start
	}

	line := s.store.Append(Line{
		Start: start,
		End:   stop,
		Text:  s.norm.apply(strings.Join(s.fragments, " ")),
	})
	s.resetLocked()

	for _, fn := range s.onLine {
		fn(line)
	}
}

func (s *Segmenter) resetLocked() {
	s.fragments = nil
	s.length = 0
	s.segmentStart = time.Time{}
	s.lastFinal = time.Time{}
}

// collapseSpace trims text and joins its words with single spaces. A cue
// must not contain a blank line.
func collapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
