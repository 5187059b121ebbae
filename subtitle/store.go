package subtitle

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// vttHeader starts every WebVTT document, including an empty one.
const vttHeader = "WEBVTT\n\n"

// Store keeps the completed lines of a session in order.
// It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	lines []Line
	next  int // index of the last appended line
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Append stores a copy of line under the next sequential index and returns it.
func (s *Store) Append(line Line) Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	line.Index = s.next
	s.lines = append(s.lines, line)
	return line
}

// Lines returns a snapshot of all stored lines.
func (s *Store) Lines() []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Len returns the number of stored lines.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

// Last returns the most recently stored line.
func (s *Store) Last() (Line, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.lines) == 0 {
		return Line{}, false
	}
	return s.lines[len(s.lines)-1], true
}

// Clear drops every line. The next appended line gets index 1 again.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.next = 0
}

// ExportSRT renders the stored lines as SubRip. An empty store yields "".
func (s *Store) ExportSRT() string {
	return EncodeSRT(s.Lines())
}

// ExportVTT renders the stored lines as WebVTT. An empty store yields the
// header alone.
func (s *Store) ExportVTT() string {
	return EncodeVTT(s.Lines())
}

// Export renders the stored lines in the given format.
func (s *Store) Export(format Format) (string, error) {
	return Encode(s.Lines(), format)
}

// Encode renders lines in the given format.
func Encode(lines []Line, format Format) (string, error) {
	switch format {
	case FormatSRT:
		return EncodeSRT(lines), nil
	case FormatVTT:
		return EncodeVTT(lines), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// EncodeSRT renders lines as SubRip cues using each line's own index.
func EncodeSRT(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			l.Index, FormatSRTTimestamp(l.Start), FormatSRTTimestamp(l.End), l.Text)
	}
	return b.String()
}

// EncodeVTT renders lines as a WebVTT document.
func EncodeVTT(lines []Line) string {
	var b strings.Builder
	b.WriteString(vttHeader)
	for _, l := range lines {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			FormatVTTTimestamp(l.Start), FormatVTTTimestamp(l.End), l.Text)
	}
	return b.String()
}

// ParseSRT reads SubRip content back into lines. Multi-line cue text is
// joined with a single space.
func ParseSRT(content string) ([]Line, error) {
	var (
		lines []Line
		cur   *Line
		timed bool
		text  []string
	)
	finish := func() {
		if cur != nil {
			cur.Text = strings.Join(text, " ")
			lines = append(lines, *cur)
		}
		cur, timed, text = nil, false, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(content, "\r\n", "\n")))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		switch {
		case raw == "":
			finish()
		case cur == nil:
			idx, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid cue index %q", lineNo, raw)
			}
			cur = &Line{Index: idx}
		case !timed:
			if !strings.Contains(raw, "-->") {
				return nil, fmt.Errorf("line %d: missing cue timing", lineNo)
			}
			startRaw, endRaw, _ := strings.Cut(raw, "-->")
			start, err := ParseTimestamp(startRaw)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			end, err := ParseTimestamp(endRaw)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur.Start, cur.End = start, end
			timed = true
		default:
			text = append(text, raw)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan srt: %w", err)
	}
	finish()
	return lines, nil
}
