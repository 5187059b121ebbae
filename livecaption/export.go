package livecaption

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.aimuz.me/autocap/subtitle"
)

// ErrNothingToExport is returned when there are no completed lines.
var ErrNothingToExport = errors.New("nothing to export")

// ExportFileName returns the file name used for an export created at t.
func ExportFileName(t time.Time, format subtitle.Format) string {
	return "autocap_" + t.Format("20060102_150405") + format.Ext()
}

// ExportFile writes the completed lines to dir and returns the file path.
func (s *Service) ExportFile(dir string, format subtitle.Format) (string, error) {
	lines := s.Lines()
	if len(lines) == 0 {
		s.publish("nothing to export", nil)
		return "", ErrNothingToExport
	}

	content, err := subtitle.Encode(lines, format)
	if err != nil {
		return "", fmt.Errorf("export subtitles: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(dir, ExportFileName(s.now(), format))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		err = fmt.Errorf("write subtitles: %w", err)
		s.publish("export failed", err)
		return "", err
	}

	slog.Info("subtitles exported", "path", path, "lines", len(lines))
	s.publish("exported "+filepath.Base(path), nil)
	return path, nil
}
