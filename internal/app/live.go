package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.aimuz.me/autocap/audiocapture"
	"go.aimuz.me/autocap/internal/types"
	"go.aimuz.me/autocap/livecaption"
	"go.aimuz.me/autocap/stt"
	"go.aimuz.me/autocap/subtitle"
)

// CaptionOptions configures one caption run.
type CaptionOptions struct {
	Printer Printer // optional

	// Out is an export file (.srt or .vtt) or a directory. Empty skips export.
	Out    string
	Format subtitle.Format // used when Out is a directory, default srt

	Save  bool // store the session in the session database
	Title string

	// Source and Recognizer replace the configured ones. They stay owned
	// by the caller.
	Source         audiocapture.Source
	Recognizer     stt.Recognizer
	RecognizerName string
}

// CaptionResult summarizes a finished run.
type CaptionResult struct {
	Lines      []subtitle.Line
	ExportPath string
	SessionID  string
	Status     types.CaptionStatus
}

// eofSource is implemented by sources with a finite input.
type eofSource interface {
	Done() <-chan struct{}
}

// Caption captures until ctx is cancelled or the source input ends, then
// exports and saves the result as requested.
func (s *Service) Caption(ctx context.Context, opts CaptionOptions) (*CaptionResult, error) {
	src := opts.Source
	if src == nil {
		opened, err := s.OpenSource()
		if err != nil {
			return nil, err
		}
		defer opened.Close()
		src = opened
	}

	rec, name := opts.Recognizer, opts.RecognizerName
	if rec == nil {
		created, display, err := s.NewRecognizer(ctx)
		if err != nil {
			return nil, fmt.Errorf("create recognizer: %w", err)
		}
		defer created.Close()
		rec, name = created, display
	}

	sink := livecaption.NewChannelSink(256)
	svc, err := livecaption.New(livecaption.Config{
		Source:         src,
		Recognizer:     rec,
		RecognizerName: name,
		Sink:           sink,
		Segmenter:      s.cfg.Segmenter.Subtitle(),
		Language:       s.cfg.Recognizer.Language,
	})
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	stopPump := pump(sink, svc, opts.Printer)
	defer stopPump()

	if err := svc.Start(ctx); err != nil {
		return nil, err
	}

	var eof <-chan struct{}
	if e, ok := src.(eofSource); ok {
		eof = e.Done()
	}
	stop := svc.Stop
	select {
	case <-ctx.Done():
		slog.Debug("caption cancelled")
	case <-eof:
		slog.Debug("audio input ended")
		// Wait for every transcription of the input unless interrupted.
		stop = func() error { return svc.StopContext(ctx) }
	}

	stopErr := stop()
	if stopErr != nil {
		slog.Warn("stop caption", "error", stopErr)
	}
	if n := sink.DroppedLines(); n > 0 {
		slog.Warn("display fell behind, completed lines not shown", "lines", n)
	}

	res := &CaptionResult{Lines: svc.Lines(), Status: svc.Status()}
	if opts.Out != "" {
		path, err := export(svc, opts.Out, opts.Format)
		switch {
		case errors.Is(err, livecaption.ErrNothingToExport):
		case err != nil:
			return res, err
		default:
			res.ExportPath = path
		}
	}
	if opts.Save {
		id, err := s.saveSession(svc, opts.Title)
		if err != nil {
			return res, err
		}
		res.SessionID = id
	}
	return res, stopErr
}

// pump forwards sink events and statuses to p until the returned function
// is called, which also prints whatever is still queued.
func pump(sink *livecaption.ChannelSink, svc *livecaption.Service, p Printer) func() {
	if p == nil {
		return func() {}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			select {
			case ev := <-sink.Events():
				p.Print(ev)
			case st := <-svc.Statuses():
				p.Status(st)
			case <-stop:
				for {
					select {
					case ev := <-sink.Events():
						p.Print(ev)
					case st := <-svc.Statuses():
						p.Status(st)
					default:
						return
					}
				}
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
	}
}

// export writes the lines to out. A path ending in .srt or .vtt is written
// as is; anything else is a directory receiving a timestamped file.
func export(svc *livecaption.Service, out string, format subtitle.Format) (string, error) {
	if f, err := subtitle.ParseFormat(filepath.Ext(out)); err == nil {
		if len(svc.Lines()) == 0 {
			return "", livecaption.ErrNothingToExport
		}
		content, err := svc.Export(f)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return "", fmt.Errorf("create export dir: %w", err)
		}
		if err := os.WriteFile(out, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("write subtitles: %w", err)
		}
		slog.Info("subtitles exported", "path", out)
		return out, nil
	}

	if format == "" {
		format = subtitle.FormatSRT
	}
	return svc.ExportFile(out, format)
}

func (s *Service) saveSession(svc *livecaption.Service, title string) (string, error) {
	rec := svc.Snapshot(title)
	if rec.LineCount == 0 {
		slog.Info("nothing to save, no lines captured")
		return "", nil
	}

	store, err := s.Sessions()
	if err != nil {
		return "", err
	}
	if err := store.Save(rec); err != nil {
		return "", err
	}
	slog.Info("session saved", "id", rec.ID, "title", rec.Title, "lines", rec.LineCount)
	return rec.ID, nil
}
