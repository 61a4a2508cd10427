// Package file is an outbox backend keeping one JSON document per user in a
// local directory. It serializes access within one process only.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/outbox"
)

const userFileSuffix = ".outbox.json"

// Store implements outbox.Store on top of a directory.
type Store struct {
	dir         string
	defaultUser string
	opts        outbox.Options
	now         func() time.Time

	mu sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed. Legacy
// staged expenses are only picked up for defaultUser.
func NewStore(dir, defaultUser string, opts outbox.Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewStore: creating %s: %w", dir, err)
	}
	return &Store{
		dir:         dir,
		defaultUser: defaultUser,
		opts:        opts.WithDefaults(),
		now:         time.Now,
	}, nil
}

// Stage implements outbox.Store.
func (s *Store) Stage(ctx context.Context, userID string, kind outbox.Kind, drafts []domain.Draft) (*outbox.Batch, error) {
	var staged *outbox.Batch
	err := s.update(ctx, userID, func(doc *outbox.Document) (bool, error) {
		var err error
		staged, err = doc.Stage(userID, kind, drafts, s.opts, s.now())
		return err == nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("Stage: %w", err)
	}
	return staged, nil
}

// StageBudget implements outbox.Store.
func (s *Store) StageBudget(ctx context.Context, userID string, budget domain.Budget) (*outbox.Batch, error) {
	var staged *outbox.Batch
	err := s.update(ctx, userID, func(doc *outbox.Document) (bool, error) {
		var err error
		staged, err = doc.StageBudget(userID, budget, s.now())
		return err == nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("StageBudget: %w", err)
	}
	return staged, nil
}

// Claim implements outbox.Store.
func (s *Store) Claim(ctx context.Context, userID string, kind outbox.Kind) (*outbox.Batch, error) {
	var claimed *outbox.Batch
	err := s.update(ctx, userID, func(doc *outbox.Document) (bool, error) {
		claimed = doc.Claim(kind, s.now())
		return claimed != nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("Claim: %w", err)
	}
	return claimed, nil
}

// Complete implements outbox.Store.
func (s *Store) Complete(ctx context.Context, batch *outbox.Batch, runErr error) error {
	var dropped *outbox.Batch
	err := s.update(ctx, batch.UserID, func(doc *outbox.Document) (bool, error) {
		var err error
		dropped, err = doc.Complete(batch, runErr, s.opts, s.now())
		return err == nil, err
	})
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	if dropped != nil {
		outbox.LogDropped(ctx, dropped)
	}
	return nil
}

// Purge implements outbox.Store.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	users, err := s.users()
	if err != nil {
		return 0, fmt.Errorf("Purge: %w", err)
	}

	total := 0
	for _, userID := range users {
		var n int
		err := s.update(ctx, userID, func(doc *outbox.Document) (bool, error) {
			n = doc.Purge(olderThan)
			return n > 0, nil
		})
		if err != nil {
			return total, fmt.Errorf("Purge: user %s: %w", userID, err)
		}
		total += n
	}
	return total, nil
}

// update loads the user's document, applies fn and writes it back when fn
// reports a change or legacy data was folded in.
func (s *Store) update(ctx context.Context, userID string, fn func(doc *outbox.Document) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(userID)
	if err != nil {
		return err
	}

	adopted := false
	if userID == s.defaultUser {
		if adopted, err = s.adoptLegacy(ctx, doc); err != nil {
			return err
		}
	}

	changed, err := fn(doc)
	if err != nil {
		return err
	}
	if !changed && !adopted {
		return nil
	}

	if err := s.write(userID, doc); err != nil {
		return err
	}
	if adopted {
		if err := os.Remove(filepath.Join(s.dir, LegacyFileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing legacy outbox: %w", err)
		}
	}
	return nil
}

func (s *Store) read(userID string) (*outbox.Document, error) {
	doc := &outbox.Document{}
	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading outbox: %w", err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decoding outbox: %w", err)
	}
	return doc, nil
}

// write replaces the user's document atomically.
func (s *Store) write(userID string, doc *outbox.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding outbox: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".outbox-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(userID)); err != nil {
		return fmt.Errorf("replacing outbox: %w", err)
	}
	return nil
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, FileName(userID))
}

// FileName returns the document name for userID. The empty user maps to "_".
func FileName(userID string) string {
	if userID == "" {
		userID = "_"
	}
	return url.PathEscape(userID) + userFileSuffix
}

func (s *Store) users() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}
	var users []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), userFileSuffix)
		if !ok || e.IsDir() {
			continue
		}
		userID, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		if userID == "_" {
			userID = ""
		}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

// Ensure Store implements outbox.Store.
var _ outbox.Store = (*Store)(nil)
