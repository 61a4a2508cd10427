// Package notes caches entry notes, which the ledger server stores in a side
// channel keyed by entry id.
package notes

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/normalize"
	"golang.org/x/sync/errgroup"
)

// Loader fetches the raw note response for one entry. This interface enables mocking.
type Loader interface {
	LoadNote(ctx context.Context, id string) (any, error)
}

// Cache maps entry ids to note text. A cached empty string means the entry
// has no note; it is not fetched again until invalidated.
type Cache struct {
	loader Loader

	mu    sync.RWMutex
	notes map[string]string
}

// New creates an empty cache backed by loader.
func New(loader Loader) *Cache {
	return &Cache{loader: loader, notes: make(map[string]string)}
}

// Get returns the note for id, loading it on first use.
func (c *Cache) Get(ctx context.Context, id string) (string, error) {
	if text, ok := c.Peek(id); ok {
		return text, nil
	}

	resp, err := c.loader.LoadNote(ctx, id)
	if err != nil {
		return "", fmt.Errorf("Cache.Get: loading note %s: %w", id, err)
	}
	text := normalize.Text(resp)
	c.Set(id, text)
	return text, nil
}

// Peek returns a cached note without loading.
func (c *Cache) Peek(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	text, ok := c.notes[id]
	return text, ok
}

// Set stores text for id.
func (c *Cache) Set(id, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes[id] = text
}

// Invalidate drops id so the next Get reloads it.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.notes, id)
}

// Len returns the number of cached notes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.notes)
}

// Prefetch loads notes for at most limit uncached ids, in order, with up to
// concurrency loads in flight. Failures are logged and skipped; it returns
// the number of notes loaded.
func (c *Cache) Prefetch(ctx context.Context, ids []string, limit, concurrency int) int {
	log := logger.FromContext(ctx)

	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(pending) >= limit {
			break
		}
		if _, ok := c.Peek(id); ok || id == "" {
			continue
		}
		pending = append(pending, id)
	}

	if concurrency <= 0 {
		concurrency = 4
	}

	var loaded atomic.Int64
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, id := range pending {
		id := id
		g.Go(func() error {
			if _, err := c.Get(ctx, id); err != nil {
				log.Warn().Err(err).Str("entry_id", id).Msg("Failed to prefetch note")
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(loaded.Load())
}
