// Package ledgertest provides mocks of the ledger collaborators for tests.
package ledgertest

import (
	"context"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/ledger"
)

// MockClient is a mock implementation of ledger.Client. Unset funcs succeed
// with an empty response. Calls are recorded and safe for concurrent use.
type MockClient struct {
	CreateEntriesFunc func(ctx context.Context, drafts []domain.Draft) (any, error)
	LoadEntriesFunc   func(ctx context.Context, start, end civil.Date, page ledger.Page) (any, error)
	UpsertNoteFunc    func(ctx context.Context, id, text string) error
	LoadNoteFunc      func(ctx context.Context, id string) (any, error)
	UpsertBudgetFunc  func(ctx context.Context, budget domain.Budget) error
	UpdateEntryFunc   func(ctx context.Context, entry domain.LedgerEntry) error
	DeleteEntryFunc   func(ctx context.Context, id string) error

	mu      sync.Mutex
	Created [][]domain.Draft
	Loads   []ledger.Page
	Notes   map[string]string
	Budgets []domain.Budget
}

var _ ledger.Client = (*MockClient)(nil)

func (m *MockClient) CreateEntries(ctx context.Context, drafts []domain.Draft) (any, error) {
	m.mu.Lock()
	m.Created = append(m.Created, append([]domain.Draft(nil), drafts...))
	m.mu.Unlock()
	if m.CreateEntriesFunc != nil {
		return m.CreateEntriesFunc(ctx, drafts)
	}
	return nil, nil
}

func (m *MockClient) LoadEntries(ctx context.Context, start, end civil.Date, page ledger.Page) (any, error) {
	m.mu.Lock()
	m.Loads = append(m.Loads, page)
	m.mu.Unlock()
	if m.LoadEntriesFunc != nil {
		return m.LoadEntriesFunc(ctx, start, end, page)
	}
	return []any{}, nil
}

func (m *MockClient) UpsertNote(ctx context.Context, id, text string) error {
	if m.UpsertNoteFunc != nil {
		if err := m.UpsertNoteFunc(ctx, id, text); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Notes == nil {
		m.Notes = make(map[string]string)
	}
	m.Notes[id] = text
	return nil
}

func (m *MockClient) LoadNote(ctx context.Context, id string) (any, error) {
	if m.LoadNoteFunc != nil {
		return m.LoadNoteFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Notes[id], nil
}

func (m *MockClient) UpsertBudget(ctx context.Context, budget domain.Budget) error {
	if m.UpsertBudgetFunc != nil {
		if err := m.UpsertBudgetFunc(ctx, budget); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Budgets = append(m.Budgets, budget)
	return nil
}

func (m *MockClient) UpdateEntry(ctx context.Context, entry domain.LedgerEntry) error {
	if m.UpdateEntryFunc != nil {
		return m.UpdateEntryFunc(ctx, entry)
	}
	return nil
}

func (m *MockClient) DeleteEntry(ctx context.Context, id string) error {
	if m.DeleteEntryFunc != nil {
		return m.DeleteEntryFunc(ctx, id)
	}
	return nil
}

// CreateCalls returns the number of CreateEntries calls.
func (m *MockClient) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Created)
}

// NoteCount returns the number of stored notes.
func (m *MockClient) NoteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Notes)
}

// MockPoints is a mock implementation of ledger.PointsClient.
type MockPoints struct {
	AwardFunc  func(ctx context.Context, userID string, points int, reason string) error
	RedeemFunc func(ctx context.Context, userID string, points int, reason string) error

	mu      sync.Mutex
	Awarded map[string]int
}

var _ ledger.PointsClient = (*MockPoints)(nil)

func (m *MockPoints) Award(ctx context.Context, userID string, points int, reason string) error {
	if m.AwardFunc != nil {
		if err := m.AwardFunc(ctx, userID, points, reason); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Awarded == nil {
		m.Awarded = make(map[string]int)
	}
	m.Awarded[userID] += points
	return nil
}

func (m *MockPoints) Redeem(ctx context.Context, userID string, points int, reason string) error {
	if m.RedeemFunc != nil {
		if err := m.RedeemFunc(ctx, userID, points, reason); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Awarded == nil {
		m.Awarded = make(map[string]int)
	}
	m.Awarded[userID] -= points
	return nil
}

// Balance returns the net points for userID.
func (m *MockPoints) Balance(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Awarded[userID]
}
