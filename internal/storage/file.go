package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"adhand/internal/prayer"
	"adhand/pkg/logx"
)

const fileHistoryCap = 50

// fileStore keeps everything in one JSON document, rewritten atomically
// (tmp + rename) on every mutation. Fine for the write rate here: one or two
// writes per day.
type fileStore struct {
	mu   sync.Mutex
	path string
	log  logx.Logger

	doc fileDoc
}

type fileDoc struct {
	Location  *prayer.Location `json:"location,omitempty"`
	Refreshes []RefreshRecord  `json:"refreshes,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("file storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{path: cfg.Path, log: log}
	b, err := os.ReadFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fresh store
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &st.doc); err != nil {
			log.Warn("store file unreadable; starting fresh", logx.String("path", cfg.Path), logx.Err(err))
			st.doc = fileDoc{}
		}
	}
	return st, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) SaveLocation(_ context.Context, loc prayer.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Location = &loc
	return s.flushLocked()
}

func (s *fileStore) LoadLocation(_ context.Context) (*prayer.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Location == nil {
		return nil, nil
	}
	cp := *s.doc.Location
	return &cp, nil
}

func (s *fileStore) AppendRefresh(_ context.Context, rec RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Refreshes = append(s.doc.Refreshes, rec)
	if len(s.doc.Refreshes) > fileHistoryCap {
		s.doc.Refreshes = s.doc.Refreshes[len(s.doc.Refreshes)-fileHistoryCap:]
	}
	return s.flushLocked()
}

func (s *fileStore) RecentRefreshes(_ context.Context, limit int) ([]RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.doc.Refreshes)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]RefreshRecord, limit)
	copy(out, s.doc.Refreshes[n-limit:])
	return out, nil
}

func (s *fileStore) flushLocked() error {
	b, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
