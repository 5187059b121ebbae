// Package session persists finished caption sessions in a badger database.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no session has the requested ID.
var ErrNotFound = errors.New("session not found")

const keyPrefix = "session/"

// Record is one saved caption session.
type Record struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	SubtitleData string    `json:"subtitleData"` // SRT
	AudioSource  string    `json:"audioSource"`
	LineCount    int       `json:"lineCount"`
	Language     string    `json:"language,omitempty"`
}

// DefaultTitle returns the title used when none is given.
func DefaultTitle(t time.Time) string {
	return "Session " + t.Format("2006-01-02 15:04:05")
}

// NewRecord creates a record with a fresh ID. A blank title becomes
// DefaultTitle(createdAt).
func NewRecord(title string, createdAt time.Time, srt, audioSource string, lineCount int, language string) Record {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle(createdAt)
	}
	return Record{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(title),
		CreatedAt:    createdAt,
		SubtitleData: srt,
		AudioSource:  audioSource,
		LineCount:    lineCount,
		Language:     language,
	}
}

// Store saves records in badger under session/<id>.
type Store struct {
	db *badger.DB
}

// Option configures Open.
type Option func(*badger.Options)

// InMemory keeps the database in memory, for tests.
func InMemory() Option {
	return func(o *badger.Options) {
		*o = o.WithInMemory(true).WithDir("").WithValueDir("")
	}
}

// Open opens or creates the session database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	o := badger.DefaultOptions(dir).WithLogger(nil)
	for _, opt := range opts {
		opt(&o)
	}
	db, err := badger.Open(o)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	slog.Debug("session store opened", "dir", dir, "in_memory", o.InMemory)
	return &Store{db: db}, nil
}

// Save inserts or replaces r.
func (s *Store) Save(r Record) error {
	if r.ID == "" {
		return errors.New("save session: empty id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(r.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (Record, error) {
	var r Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if err != nil {
		return Record{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return r, nil
}

// List returns all records, newest first.
func (s *Store) List() ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				slog.Warn("skipping unreadable session", "key", string(it.Item().Key()), "error", err)
				continue
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	slices.SortFunc(records, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return records, nil
}

// Delete removes the record with the given ID.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key(id))
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}
