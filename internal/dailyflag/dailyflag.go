// Package dailyflag records actions a user may perform once per calendar day.
package dailyflag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"cloud.google.com/go/civil"
)

// Store is an atomic test-and-set over (user, action, day).
// This interface enables mocking.
type Store interface {
	// MarkOnce marks the flag and reports whether this call set it. A false
	// result means the action already ran that day.
	MarkOnce(ctx context.Context, userID, action string, day civil.Date) (bool, error)
}

type key struct {
	user   string
	action string
	day    civil.Date
}

// MemoryStore keeps flags in memory.
type MemoryStore struct {
	mu    sync.Mutex
	flags map[key]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[key]struct{})}
}

// MarkOnce implements Store.
func (s *MemoryStore) MarkOnce(ctx context.Context, userID, action string, day civil.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{user: userID, action: action, day: day}
	if _, ok := s.flags[k]; ok {
		return false, nil
	}
	s.flags[k] = struct{}{}
	return true, nil
}

// FileStore persists the last day each (user, action) was marked in one
// JSON file. Only the latest day is kept per pair.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("NewFileStore: %w", err)
	}
	return &FileStore{path: path}, nil
}

// MarkOnce implements Store.
func (s *FileStore) MarkOnce(ctx context.Context, userID, action string, day civil.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags := map[string]map[string]string{}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return false, fmt.Errorf("MarkOnce: reading flags: %w", err)
	default:
		if err := json.Unmarshal(data, &flags); err != nil {
			return false, fmt.Errorf("MarkOnce: decoding flags: %w", err)
		}
	}

	if flags[userID][action] == day.String() {
		return false, nil
	}
	if flags[userID] == nil {
		flags[userID] = map[string]string{}
	}
	flags[userID][action] = day.String()

	out, err := json.Marshal(flags)
	if err != nil {
		return false, fmt.Errorf("MarkOnce: encoding flags: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return false, fmt.Errorf("MarkOnce: writing flags: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return false, fmt.Errorf("MarkOnce: replacing flags: %w", err)
	}
	return true, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
