// Package ledger defines the collaborators that own ledger entries, notes,
// budgets and points, plus an HTTP implementation against the REST backend.
package ledger

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/domain"
)

// DefaultPageSize is used when a Page carries no size.
const DefaultPageSize = 100

// Page selects one page of a range query. Number is zero-based.
type Page struct {
	Number int
	Size   int
}

// Client is the ledger server as seen by the importer and the ledger view.
// Responses are returned undecoded in shape; callers run them through the
// normalize package. This interface enables mocking.
type Client interface {
	// CreateEntries creates one entry per draft. The response may or may not
	// carry the new identifiers.
	CreateEntries(ctx context.Context, drafts []domain.Draft) (any, error)
	// LoadEntries returns one page of entries dated within [start, end].
	LoadEntries(ctx context.Context, start, end civil.Date, page Page) (any, error)
	UpsertNote(ctx context.Context, id, text string) error
	LoadNote(ctx context.Context, id string) (any, error)
	UpsertBudget(ctx context.Context, budget domain.Budget) error
	// UpdateEntry replaces category, date and amount of an existing entry.
	UpdateEntry(ctx context.Context, entry domain.LedgerEntry) error
	DeleteEntry(ctx context.Context, id string) error
}

// PointsClient awards and redeems mission points. This interface enables mocking.
type PointsClient interface {
	Award(ctx context.Context, userID string, points int, reason string) error
	Redeem(ctx context.Context, userID string, points int, reason string) error
}

// Limit returns the page size, falling back to DefaultPageSize.
func (p Page) Limit() int {
	if p.Size <= 0 {
		return DefaultPageSize
	}
	return p.Size
}
