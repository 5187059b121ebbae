package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.aimuz.me/autocap/internal/types"
	"go.aimuz.me/autocap/livecaption"
	"go.aimuz.me/autocap/subtitle"
)

// Event kinds written by JSONPrinter.
const (
	EventPartial = "partial"
	EventLine    = "line"
	EventHide    = "hide"
	EventStatus  = "status"
)

// Printer renders caption updates. It is called from a single goroutine.
type Printer interface {
	Print(ev livecaption.SinkEvent)
	Status(st livecaption.Status)
}

// JSONPrinter writes one types.LiveText object per line.
type JSONPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// NewJSONPrinter creates a printer writing to w.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{enc: json.NewEncoder(w), now: time.Now}
}

func (p *JSONPrinter) Print(ev livecaption.SinkEvent) {
	out := types.LiveText{Timestamp: p.now().UnixMilli()}
	switch ev.Kind {
	case livecaption.SinkLiveText:
		out.Kind = EventPartial
		out.Text = ev.Text
	case livecaption.SinkLine:
		out.Kind = EventLine
		out.Text = ev.Line.Text
		out.Index = ev.Line.Index
		out.Start = ev.Line.Start.Milliseconds()
		out.End = ev.Line.End.Milliseconds()
	case livecaption.SinkHide:
		out.Kind = EventHide
	}
	p.write(out)
}

func (p *JSONPrinter) Status(st livecaption.Status) {
	text := st.Message
	if st.Err != nil {
		text += ": " + st.Err.Error()
	}
	p.write(types.LiveText{Kind: EventStatus, Text: text, Timestamp: st.Time.UnixMilli()})
}

func (p *JSONPrinter) write(v types.LiveText) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(v)
}

// TerminalPrinter writes completed lines with their timing. With Live set,
// partial text is shown on a line that is rewritten in place.
type TerminalPrinter struct {
	w       io.Writer
	live    bool
	showing bool // a partial is on screen
}

// NewTerminalPrinter creates a printer writing to w.
func NewTerminalPrinter(w io.Writer, live bool) *TerminalPrinter {
	return &TerminalPrinter{w: w, live: live}
}

const clearLine = "\r\033[K"

func (p *TerminalPrinter) Print(ev livecaption.SinkEvent) {
	switch ev.Kind {
	case livecaption.SinkLiveText:
		if p.live {
			fmt.Fprint(p.w, clearLine+"… "+ev.Text)
			p.showing = true
		}
	case livecaption.SinkLine:
		p.clear()
		fmt.Fprintf(p.w, "[%s --> %s] %s\n",
			subtitle.FormatVTTTimestamp(ev.Line.Start),
			subtitle.FormatVTTTimestamp(ev.Line.End),
			ev.Line.Text)
	case livecaption.SinkHide:
		p.clear()
	}
}

// Status is a no-op; status messages are already logged.
func (p *TerminalPrinter) Status(livecaption.Status) {}

func (p *TerminalPrinter) clear() {
	if p.showing {
		fmt.Fprint(p.w, clearLine)
		p.showing = false
	}
}
