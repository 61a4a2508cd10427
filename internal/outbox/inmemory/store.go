// Package inmemory is a process-local outbox backend.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/outbox"
)

// Store is an in-memory implementation of outbox.Store.
// It is safe for concurrent use. Data is lost on restart; for persistence,
// use the file, Postgres or GCS backend.
type Store struct {
	opts outbox.Options
	now  func() time.Time

	mu    sync.Mutex
	users map[string]*outbox.Document
}

// NewStore creates an empty in-memory outbox.
func NewStore(opts outbox.Options) *Store {
	return &Store{
		opts:  opts.WithDefaults(),
		now:   time.Now,
		users: make(map[string]*outbox.Document),
	}
}

// Stage implements outbox.Store.
func (s *Store) Stage(ctx context.Context, userID string, kind outbox.Kind, drafts []domain.Draft) (*outbox.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.doc(userID).Stage(userID, kind, drafts, s.opts, s.now())
	if err != nil {
		return nil, fmt.Errorf("Stage: %w", err)
	}
	return b, nil
}

// StageBudget implements outbox.Store.
func (s *Store) StageBudget(ctx context.Context, userID string, budget domain.Budget) (*outbox.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.doc(userID).StageBudget(userID, budget, s.now())
	if err != nil {
		return nil, fmt.Errorf("StageBudget: %w", err)
	}
	return b, nil
}

// Claim implements outbox.Store.
func (s *Store) Claim(ctx context.Context, userID string, kind outbox.Kind) (*outbox.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doc(userID).Claim(kind, s.now()), nil
}

// Complete implements outbox.Store.
func (s *Store) Complete(ctx context.Context, batch *outbox.Batch, runErr error) error {
	s.mu.Lock()
	dropped, err := s.doc(batch.UserID).Complete(batch, runErr, s.opts, s.now())
	s.mu.Unlock()

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
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, doc := range s.users {
		n += doc.Purge(olderThan)
	}
	return n, nil
}

// Snapshot returns copies of every batch held for userID.
func (s *Store) Snapshot(userID string) []*outbox.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.users[userID]
	if !ok {
		return nil
	}
	out := make([]*outbox.Batch, len(doc.Batches))
	for i, b := range doc.Batches {
		out[i] = b.Clone()
	}
	return out
}

func (s *Store) doc(userID string) *outbox.Document {
	doc, ok := s.users[userID]
	if !ok {
		doc = &outbox.Document{}
		s.users[userID] = doc
	}
	return doc
}

// Ensure Store implements outbox.Store.
var _ outbox.Store = (*Store)(nil)
