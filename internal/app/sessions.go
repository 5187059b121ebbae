package app

import (
	"fmt"

	"go.aimuz.me/autocap/session"
	"go.aimuz.me/autocap/subtitle"
)

// ListSessions returns saved sessions, newest first.
func (s *Service) ListSessions() ([]session.Record, error) {
	store, err := s.Sessions()
	if err != nil {
		return nil, err
	}
	return store.List()
}

// GetSession returns one saved session.
func (s *Service) GetSession(id string) (session.Record, error) {
	store, err := s.Sessions()
	if err != nil {
		return session.Record{}, err
	}
	return store.Get(id)
}

// DeleteSession removes a saved session.
func (s *Service) DeleteSession(id string) error {
	store, err := s.Sessions()
	if err != nil {
		return err
	}
	return store.Delete(id)
}

// ExportSession renders a saved session in format.
func (s *Service) ExportSession(id string, format subtitle.Format) (string, error) {
	rec, err := s.GetSession(id)
	if err != nil {
		return "", err
	}
	if format == subtitle.FormatSRT {
		return rec.SubtitleData, nil
	}

	lines, err := subtitle.ParseSRT(rec.SubtitleData)
	if err != nil {
		return "", fmt.Errorf("parse session %s: %w", id, err)
	}
	return subtitle.Encode(lines, format)
}
