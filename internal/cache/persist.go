package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// snapshot is the on-disk form of a Store.
type snapshot struct {
	Entries map[string]snapshotKey `json:"entries"`
}

// snapshotKey holds the saved fields of one key.
type snapshotKey struct {
	// ComputedAt is the earliest computation time among Fields.
	ComputedAt time.Time                  `json:"computed_at"`
	Fields     map[string]json.RawMessage `json:"fields"`
}

// FreshFunc reports whether entries for key computed at computedAt may be
// reused.
type FreshFunc func(key string, computedAt time.Time) bool

// Save writes every successful entry to path as JSON.
// Entries whose value cannot be encoded are skipped.
func (s *Store) Save(path string) error {
	snap := snapshot{Entries: make(map[string]snapshotKey)}

	s.mu.RLock()
	for key, fields := range s.entries {
		for field, e := range fields {
			if e.err != nil {
				continue
			}
			raw, err := json.Marshal(e.value)
			if err != nil {
				continue
			}
			sk, ok := snap.Entries[key]
			if !ok {
				sk = snapshotKey{ComputedAt: e.computedAt, Fields: make(map[string]json.RawMessage)}
			}
			if e.computedAt.Before(sk.ComputedAt) {
				sk.ComputedAt = e.computedAt
			}
			sk.Fields[field] = raw
			snap.Entries[key] = sk
		}
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	return withLock(path, true, func() error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("write cache: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("replace cache: %w", err)
		}
		return nil
	})
}

// Load restores entries saved by Save. Keys for which fresh returns false
// are skipped; a nil fresh accepts everything. A missing file is not an error.
// Loaded entries never replace entries already present in the store, and
// keep their original computation time.
func (s *Store) Load(path string, fresh FreshFunc) (int, error) {
	var data []byte
	err := withLock(path, false, func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("parse cache %s: %w", path, err)
	}

	loaded := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sk := range snap.Entries {
		if fresh != nil && !fresh(key, sk.ComputedAt) {
			continue
		}
		for field, raw := range sk.Fields {
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				continue
			}
			if s.entries[key] == nil {
				s.entries[key] = make(map[string]entry)
			}
			if _, ok := s.entries[key][field]; ok {
				continue
			}
			s.entries[key][field] = entry{value: value, computedAt: sk.ComputedAt}
			loaded++
		}
	}
	return loaded, nil
}

func withLock(path string, exclusive bool, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	fileLock := flock.New(path + ".lock")
	lock := fileLock.RLock
	if exclusive {
		lock = fileLock.Lock
	}
	if err := lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fileLock.Unlock() }()

	return fn()
}
