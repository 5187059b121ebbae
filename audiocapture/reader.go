package audiocapture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultFrameDuration is the amount of audio delivered per frame.
const DefaultFrameDuration = 20 * time.Millisecond

// ReaderConfig configures a ReaderSource.
type ReaderConfig struct {
	Format        Format        // PCM layout of raw input; taken from the header for WAV files
	FrameDuration time.Duration // audio per frame, default 20ms
	Realtime      bool          // pace frames at playback speed instead of as fast as possible
	Label         string        // returned by Description
}

// ReaderSource streams PCM from an io.Reader, such as a WAV file or stdin.
type ReaderSource struct {
	r      io.Reader
	closer io.Closer
	cfg    ReaderConfig
	errorHooks

	mu        sync.Mutex
	capturing bool
	cancel    context.CancelFunc
	stopped   chan struct{} // closed when the pump goroutine exits

	eofOnce sync.Once
	eof     chan struct{}
}

// NewReaderSource reads raw PCM in cfg.Format from r.
func NewReaderSource(r io.Reader, cfg ReaderConfig) *ReaderSource {
	if cfg.Format == (Format{}) {
		cfg.Format = DefaultFormat()
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.Label == "" {
		cfg.Label = "reader"
	}
	return &ReaderSource{
		r:   r,
		cfg: cfg,
		eof: make(chan struct{}),
	}
}

// NewSilence returns a source producing silence in real time until stopped.
func NewSilence(f Format) *ReaderSource {
	return NewReaderSource(zeroReader{}, ReaderConfig{
		Format:   f,
		Realtime: true,
		Label:    "silence",
	})
}

// OpenFile opens a WAV or raw PCM file. Files ending in .wav must carry a
// 16-bit PCM mono header; anything else is read as raw PCM in cfg.Format.
func OpenFile(path string, cfg ReaderConfig) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		format, err := ReadWAVHeader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if format.Channels != 1 {
			f.Close()
			return nil, fmt.Errorf("read %s: %d channels, only mono is supported", path, format.Channels)
		}
		cfg.Format = format
	}
	if cfg.Label == "" {
		cfg.Label = filepath.Base(path)
	}

	s := NewReaderSource(f, cfg)
	s.closer = f
	return s, nil
}

// Start begins streaming frames to handler.
func (s *ReaderSource) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("audiocapture: nil handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing {
		return ErrAlreadyCapturing
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.capturing = true

	go s.pump(ctx, handler, s.stopped)
	return nil
}

func (s *ReaderSource) pump(ctx context.Context, handler Handler, stopped chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.capturing = false
		s.mu.Unlock()
		close(stopped)
	}()

	size := s.cfg.Format.FrameSize(s.cfg.FrameDuration)
	if size <= 0 {
		s.notify(fmt.Errorf("frame size is zero for %+v", s.cfg.Format))
		s.markEOF()
		return
	}

	var tick <-chan time.Time
	if s.cfg.Realtime {
		ticker := time.NewTicker(s.cfg.FrameDuration)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			n -= n % s.cfg.Format.BlockAlign()
			handler(Frame{Data: buf[:n], Timestamp: time.Now()})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("audio reader failed", "source", s.cfg.Label, "error", err)
				s.notify(fmt.Errorf("read audio: %w", err))
			}
			s.markEOF()
			return
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

func (s *ReaderSource) markEOF() {
	s.eofOnce.Do(func() { close(s.eof) })
}

// Stop stops streaming and waits for the pump goroutine to exit.
func (s *ReaderSource) Stop() error {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped
	return nil
}

// Close stops streaming and closes the underlying file, if any.
func (s *ReaderSource) Close() error {
	_ = s.Stop()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Done is closed once the input is exhausted or reading fails.
func (s *ReaderSource) Done() <-chan struct{} {
	return s.eof
}

func (s *ReaderSource) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// CanWait reports true: unread input stays in the reader while the handler blocks.
func (s *ReaderSource) CanWait() bool { return true }

func (s *ReaderSource) Description() string { return s.cfg.Label }
func (s *ReaderSource) Format() Format      { return s.cfg.Format }

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
