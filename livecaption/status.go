package livecaption

import (
	"log/slog"
	"time"
)

// Status is a human-readable message about the session, such as a start,
// a stop or a failure.
type Status struct {
	Time    time.Time
	Message string
	Err     error // set for failures
}

func (s Status) String() string { return s.Message }

// publish logs msg and offers it to Statuses without blocking.
func (s *Service) publish(msg string, err error) {
	st := Status{Time: time.Now(), Message: msg, Err: err}
	if err != nil {
		slog.Warn(msg, "error", err)
	} else {
		slog.Info(msg)
	}
	select {
	case s.statuses <- st:
	default:
		slog.Debug("status channel full, dropping", "message", msg)
	}
}
