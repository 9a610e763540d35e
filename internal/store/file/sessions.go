// Package file is the default session store: one JSON document per
// session under a state directory. Writes go through a temp file and
// rename so a crash never leaves a torn record.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/threadclaw/internal/store"
)

// Store persists session records as JSON files.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates the state directory if needed and returns the store.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// path maps a session id to its file. Session ids contain ":" which is
// unfriendly on some filesystems, so it is flattened.
func (s *Store) path(sessionID string) string {
	name := strings.NewReplacer(":", "_", "/", "_", "|", "_").Replace(sessionID)
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) Save(ctx context.Context, rec *store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal %s: %w", rec.SessionID, err)
	}
	path := s.path(rec.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("file store: rename %s: %w", path, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %s: %w", sessionID, err)
	}
	var rec store.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("file store: decode %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context) ([]*store.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file store: list %s: %w", s.dir, err)
	}
	var recs []*store.SessionRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec store.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			// One corrupt file must not block resuming every other session.
			continue
		}
		recs = append(recs, &rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) Close() error { return nil }
