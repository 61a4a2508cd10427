// Package outbox stages drafts written by one feature for another that is not
// running yet. A batch moves pending -> migrating -> consumed and is consumed
// at most once.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/accountbook/internal/domain"
)

// Kind identifies what a batch carries.
type Kind string

const (
	// KindMission batches hold ledger drafts produced by missions.
	KindMission Kind = "mission"
	// KindBudget batches hold a single pending budget.
	KindBudget Kind = "budget"
)

// Status is the lifecycle state of a batch.
type Status string

const (
	StatusPending   Status = "pending"
	StatusMigrating Status = "migrating"
	StatusConsumed  Status = "consumed"
)

// Policy decides what happens to a claimed batch whose migration failed.
type Policy string

const (
	// DeleteOnAttempt consumes a batch once claimed, whatever the outcome.
	DeleteOnAttempt Policy = "delete_on_attempt"
	// DeleteOnSuccess returns failed batches to pending until MaxAttempts.
	DeleteOnSuccess Policy = "delete_on_success"
)

const (
	// DefaultCapacity bounds the drafts held by one pending batch.
	DefaultCapacity    = 500
	defaultMaxAttempts = 3
)

var (
	// ErrOutboxFull is returned when staging would exceed the capacity.
	ErrOutboxFull = errors.New("outbox is full")
	// ErrBatchNotFound is returned when completing an unknown batch.
	ErrBatchNotFound = errors.New("batch not found")
)

// Batch is an ordered group of drafts staged for one user.
type Batch struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Kind      Kind           `json:"kind"`
	Drafts    []domain.Draft `json:"drafts,omitempty"`
	Budget    *domain.Budget `json:"budget,omitempty"`
	Status    Status         `json:"status"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	LastError string         `json:"last_error,omitempty"`
}

// Clone returns a deep copy of b.
func (b *Batch) Clone() *Batch {
	c := *b
	c.Drafts = append([]domain.Draft(nil), b.Drafts...)
	if b.Budget != nil {
		budget := *b.Budget
		c.Budget = &budget
	}
	return &c
}

// Store persists staged batches. Implementations must make Claim a single
// atomic pending -> migrating step. This interface enables mocking.
type Store interface {
	// Stage appends drafts to the user's pending batch of kind, creating it
	// if needed.
	Stage(ctx context.Context, userID string, kind Kind, drafts []domain.Draft) (*Batch, error)
	// StageBudget replaces the user's pending budget.
	StageBudget(ctx context.Context, userID string, budget domain.Budget) (*Batch, error)
	// Claim moves the oldest pending batch to migrating and returns it, or
	// returns nil when nothing is pending.
	Claim(ctx context.Context, userID string, kind Kind) (*Batch, error)
	// Complete records the migration outcome of a claimed batch. The
	// drafts of batch replace the stored ones, so a batch returned to
	// pending carries only what the caller left in it.
	Complete(ctx context.Context, batch *Batch, runErr error) error
	// Purge deletes consumed batches last updated before olderThan.
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// Options configures a store. Zero values select defaults.
type Options struct {
	Capacity    int
	Policy      Policy
	MaxAttempts int
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.Policy == "" {
		o.Policy = DeleteOnAttempt
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	return o
}

// ParsePolicy accepts the config spelling of a policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", DeleteOnAttempt:
		return DeleteOnAttempt, nil
	case DeleteOnSuccess:
		return DeleteOnSuccess, nil
	default:
		return "", fmt.Errorf("unknown migration policy %q", s)
	}
}
