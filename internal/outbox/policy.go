package outbox

import (
	"fmt"
	"time"

	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/google/uuid"
)

// NewBatch creates a pending batch with a time-ordered id.
func NewBatch(userID string, kind Kind, now time.Time) (*Batch, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("NewBatch: generating id: %w", err)
	}
	return &Batch{
		ID:        id.String(),
		UserID:    userID,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Append adds drafts to a pending batch, enforcing capacity.
func Append(b *Batch, drafts []domain.Draft, capacity int, now time.Time) error {
	if len(b.Drafts)+len(drafts) > capacity {
		return fmt.Errorf("%w: %d staged, %d more, capacity %d", ErrOutboxFull, len(b.Drafts), len(drafts), capacity)
	}
	b.Drafts = append(b.Drafts, drafts...)
	b.UpdatedAt = now
	return nil
}

// MarkClaimed moves a pending batch to migrating.
func MarkClaimed(b *Batch, now time.Time) {
	b.Status = StatusMigrating
	b.Attempts++
	b.UpdatedAt = now
}

// Settle applies the outcome of a claimed batch to its stored copy. The
// claimed batch's drafts replace the stored ones, so drafts a migration has
// restaged elsewhere do not return to pending with it. It reports whether
// the batch was dropped after a failure.
func Settle(stored, claimed *Batch, runErr error, opts Options, now time.Time) (dropped bool) {
	if claimed.Kind != KindBudget {
		stored.Drafts = append([]domain.Draft(nil), claimed.Drafts...)
	}
	return Resolve(stored, runErr, opts, now)
}

// Resolve applies the policy to a claimed batch after its migration ran.
// It reports whether the batch was dropped after a failure.
func Resolve(b *Batch, runErr error, opts Options, now time.Time) (dropped bool) {
	opts = opts.WithDefaults()
	b.UpdatedAt = now

	if runErr == nil {
		b.Status = StatusConsumed
		b.LastError = ""
		return false
	}

	b.LastError = runErr.Error()
	if opts.Policy == DeleteOnSuccess && b.Attempts < opts.MaxAttempts {
		b.Status = StatusPending
		return false
	}
	b.Status = StatusConsumed
	return true
}

// Purgeable reports whether Purge should delete b.
func Purgeable(b *Batch, olderThan time.Time) bool {
	return b.Status == StatusConsumed && b.UpdatedAt.Before(olderThan)
}
