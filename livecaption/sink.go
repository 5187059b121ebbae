package livecaption

import (
	"log/slog"
	"sync/atomic"

	"go.aimuz.me/autocap/subtitle"
)

// Sink presents captions. Implementations must be safe for use from any
// goroutine and must not block.
type Sink interface {
	// ShowLiveText shows provisional text for the line in progress.
	ShowLiveText(text string)
	// ShowCompletedLine shows a finished line.
	ShowCompletedLine(line subtitle.Line)
	// Hide clears the presentation when capture stops.
	Hide()
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) ShowLiveText(string)             {}
func (NopSink) ShowCompletedLine(subtitle.Line) {}
func (NopSink) Hide()                           {}

// SinkEventKind identifies a SinkEvent.
type SinkEventKind int

const (
	SinkLiveText SinkEventKind = iota
	SinkLine
	SinkHide
)

func (k SinkEventKind) String() string {
	switch k {
	case SinkLiveText:
		return "live"
	case SinkLine:
		return "line"
	case SinkHide:
		return "hide"
	}
	return "unknown"
}

// SinkEvent is one Sink call delivered by ChannelSink.
type SinkEvent struct {
	Kind SinkEventKind
	Text string        // SinkLiveText
	Line subtitle.Line // SinkLine
}

// ChannelSink forwards sink calls to a buffered channel without blocking.
// Live text is only queued while a quarter of the buffer is still free, so
// completed lines and Hide find room when a reader falls behind. Anything
// that does not fit is dropped and counted.
type ChannelSink struct {
	ch      chan SinkEvent
	reserve int

	droppedLive  atomic.Int64
	droppedLines atomic.Int64
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{ch: make(chan SinkEvent, size), reserve: size / 4}
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan SinkEvent { return s.ch }

// Dropped returns how many events were discarded.
func (s *ChannelSink) Dropped() int64 { return s.droppedLive.Load() + s.droppedLines.Load() }

// DroppedLines returns how many completed lines and hides were discarded.
func (s *ChannelSink) DroppedLines() int64 { return s.droppedLines.Load() }

func (s *ChannelSink) ShowLiveText(text string) {
	if len(s.ch) >= cap(s.ch)-s.reserve {
		s.droppedLive.Add(1)
		return
	}
	select {
	case s.ch <- SinkEvent{Kind: SinkLiveText, Text: text}:
	default:
		s.droppedLive.Add(1)
	}
}

func (s *ChannelSink) ShowCompletedLine(line subtitle.Line) {
	if !s.send(SinkEvent{Kind: SinkLine, Line: line}) {
		slog.Warn("caption display full, completed line not shown", "index", line.Index)
	}
}

func (s *ChannelSink) Hide() {
	s.send(SinkEvent{Kind: SinkHide})
}

func (s *ChannelSink) send(ev SinkEvent) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		s.droppedLines.Add(1)
		return false
	}
}
