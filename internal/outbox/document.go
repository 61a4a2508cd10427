package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/logger"
)

// Document holds every batch of one user. Backends that persist a user's
// outbox as a single record load a Document, apply one operation and save it.
type Document struct {
	Batches []*Batch `json:"batches"`
}

// Pending returns the oldest pending batch of kind, or nil.
func (d *Document) Pending(kind Kind) *Batch {
	var oldest *Batch
	for _, b := range d.Batches {
		if b.Kind != kind || b.Status != StatusPending {
			continue
		}
		if oldest == nil || b.ID < oldest.ID {
			oldest = b
		}
	}
	return oldest
}

// Stage appends drafts to the pending batch of kind, creating one if needed.
func (d *Document) Stage(userID string, kind Kind, drafts []domain.Draft, opts Options, now time.Time) (*Batch, error) {
	opts = opts.WithDefaults()
	b := d.Pending(kind)
	if b == nil {
		var err error
		if b, err = NewBatch(userID, kind, now); err != nil {
			return nil, err
		}
		if err := Append(b, drafts, opts.Capacity, now); err != nil {
			return nil, err
		}
		d.Batches = append(d.Batches, b)
		return b.Clone(), nil
	}
	if err := Append(b, drafts, opts.Capacity, now); err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

// StageBudget replaces the pending budget.
func (d *Document) StageBudget(userID string, budget domain.Budget, now time.Time) (*Batch, error) {
	b := d.Pending(KindBudget)
	if b == nil {
		var err error
		if b, err = NewBatch(userID, KindBudget, now); err != nil {
			return nil, err
		}
		d.Batches = append(d.Batches, b)
	}
	b.Budget = &budget
	b.UpdatedAt = now
	return b.Clone(), nil
}

// Claim marks the oldest pending batch of kind as migrating and returns a
// copy, or nil when nothing is pending.
func (d *Document) Claim(kind Kind, now time.Time) *Batch {
	b := d.Pending(kind)
	if b == nil {
		return nil
	}
	MarkClaimed(b, now)
	return b.Clone()
}

// Complete settles the stored copy of claimed. It returns a copy of the
// batch when the policy dropped it, for the caller to log once the
// document is saved.
func (d *Document) Complete(claimed *Batch, runErr error, opts Options, now time.Time) (*Batch, error) {
	for _, b := range d.Batches {
		if b.ID != claimed.ID {
			continue
		}
		if Settle(b, claimed, runErr, opts, now) {
			return b.Clone(), nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, claimed.ID)
}

// Purge removes purgeable batches and returns how many were removed.
func (d *Document) Purge(olderThan time.Time) int {
	kept := d.Batches[:0]
	for _, b := range d.Batches {
		if !Purgeable(b, olderThan) {
			kept = append(kept, b)
		}
	}
	n := len(d.Batches) - len(kept)
	d.Batches = kept
	return n
}

// LogDropped records a batch consumed after a failed migration.
func LogDropped(ctx context.Context, b *Batch) {
	log := logger.FromContext(ctx)
	log.Warn().
		Str("batch_id", b.ID).
		Str("user_id", b.UserID).
		Int("drafts", len(b.Drafts)).
		Str("error", b.LastError).
		Msg("Dropped staged batch after failed migration")
}
