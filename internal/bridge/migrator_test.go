package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/importer"
	"github.com/dvloznov/accountbook/internal/ledger/ledgertest"
	"github.com/dvloznov/accountbook/internal/outbox"
	"github.com/dvloznov/accountbook/internal/outbox/inmemory"
	"github.com/google/go-cmp/cmp"
)

// MockImporter is a mock implementation of Importer.
type MockImporter struct {
	ImportDraftsFunc func(ctx context.Context, drafts []domain.Draft) (importer.Result, error)
	Calls            [][]domain.Draft
}

func (m *MockImporter) ImportDrafts(ctx context.Context, drafts []domain.Draft) (importer.Result, error) {
	m.Calls = append(m.Calls, drafts)
	if m.ImportDraftsFunc != nil {
		return m.ImportDraftsFunc(ctx, drafts)
	}
	return importer.Result{Imported: len(drafts)}, nil
}

var (
	october  = domain.Draft{Category: "식비", Date: "2025-10-19", Amount: 8000, Note: "미션 보상"}
	november = domain.Draft{Category: "교통", Date: "2025-11-02", Amount: 1450}
)

func TestMigrate_AtMostOnce(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore(outbox.Options{})
	client := &ledgertest.MockClient{}
	m := NewMigrator(store, importer.New(client, nil, importer.Options{}), client)

	if _, err := store.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{october}); err != nil {
		t.Fatal(err)
	}

	first := m.Migrate(ctx, "u1", nil)
	if first.Migrated != 1 || len(first.Errors) != 0 {
		t.Fatalf("first Migrate = %+v", first)
	}

	second := m.Migrate(ctx, "u1", nil)
	if second.Migrated != 0 || second.BatchID != "" {
		t.Errorf("second Migrate found work: %+v", second)
	}
	if client.CreateCalls() != 1 {
		t.Errorf("create called %d times, want 1", client.CreateCalls())
	}
}

func TestMigrate_FailurePolicies(t *testing.T) {
	tests := []struct {
		name        string
		policy      outbox.Policy
		wantRetried bool
	}{
		{"delete on attempt drops the batch", outbox.DeleteOnAttempt, false},
		{"delete on success retries", outbox.DeleteOnSuccess, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := inmemory.NewStore(outbox.Options{Policy: tt.policy, MaxAttempts: 3})
			imp := &MockImporter{ImportDraftsFunc: func(ctx context.Context, drafts []domain.Draft) (importer.Result, error) {
				return importer.Result{}, errors.New("ledger offline")
			}}
			m := NewMigrator(store, imp, &ledgertest.MockClient{})

			if _, err := store.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{october}); err != nil {
				t.Fatal(err)
			}

			report := m.Migrate(ctx, "u1", nil)
			if len(report.Errors) == 0 || report.Migrated != 0 {
				t.Errorf("failed Migrate report = %+v", report)
			}

			m.Migrate(ctx, "u1", nil)
			retried := len(imp.Calls) == 2
			if retried != tt.wantRetried {
				t.Errorf("import calls = %d, retried=%v want %v", len(imp.Calls), retried, tt.wantRetried)
			}
		})
	}
}

func TestMigrate_ScopeDefersOtherMonths(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore(outbox.Options{})
	imp := &MockImporter{}
	m := NewMigrator(store, imp, &ledgertest.MockClient{})

	if _, err := store.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{october, november}); err != nil {
		t.Fatal(err)
	}

	oct := domain.Month{Year: 2025, Month: 10}
	report := m.Migrate(ctx, "u1", &oct)
	if report.Migrated != 1 || report.Deferred != 1 {
		t.Fatalf("Migrate(october) = %+v", report)
	}

	nov := oct.Next()
	report = m.Migrate(ctx, "u1", &nov)
	if report.Migrated != 1 || report.Deferred != 0 {
		t.Fatalf("Migrate(november) = %+v", report)
	}

	want := [][]domain.Draft{{october}, {november}}
	if diff := cmp.Diff(want, imp.Calls); diff != "" {
		t.Errorf("imported drafts mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrate_ScopedRetryDoesNotDuplicateDeferred(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore(outbox.Options{Policy: outbox.DeleteOnSuccess, MaxAttempts: 3})
	failures := 2
	imp := &MockImporter{ImportDraftsFunc: func(ctx context.Context, drafts []domain.Draft) (importer.Result, error) {
		if failures > 0 {
			failures--
			return importer.Result{}, errors.New("ledger offline")
		}
		return importer.Result{Imported: len(drafts)}, nil
	}}
	m := NewMigrator(store, imp, nil)

	if _, err := store.Stage(ctx, "u1", outbox.KindMission, []domain.Draft{october, november}); err != nil {
		t.Fatal(err)
	}

	octoberScope, _ := domain.ParseMonth("2025-10")
	for i := 0; i < 3; i++ {
		m.Migrate(ctx, "u1", &octoberScope)
	}
	novemberScope, _ := domain.ParseMonth("2025-11")
	last := m.Migrate(ctx, "u1", &novemberScope)
	if last.Migrated != 1 {
		t.Errorf("november Migrate = %+v, want 1 migrated", last)
	}

	counts := map[string]int{}
	for _, call := range imp.Calls {
		for _, d := range call {
			counts[d.Date]++
		}
	}
	if counts[november.Date] != 1 {
		t.Errorf("november draft imported %d times, want 1; calls=%v", counts[november.Date], imp.Calls)
	}
	if counts[october.Date] != 3 {
		t.Errorf("october draft attempted %d times, want 3", counts[october.Date])
	}

	if b, err := store.Claim(ctx, "u1", outbox.KindMission); err != nil || b != nil {
		t.Errorf("work left in outbox: %+v, %v", b, err)
	}
}

func TestMigrate_AppliesBudget(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore(outbox.Options{})
	client := &ledgertest.MockClient{}
	m := NewMigrator(store, &MockImporter{}, client)

	budget := domain.Budget{Month: "2025-10", Category: "식비", Amount: 300000}
	if _, err := store.StageBudget(ctx, "u1", budget); err != nil {
		t.Fatal(err)
	}

	report := m.Migrate(ctx, "u1", nil)
	if !report.BudgetApplied {
		t.Fatalf("budget not applied: %+v", report)
	}
	if diff := cmp.Diff([]domain.Budget{budget}, client.Budgets); diff != "" {
		t.Errorf("budgets mismatch (-want +got):\n%s", diff)
	}

	if again := m.Migrate(ctx, "u1", nil); again.BudgetApplied {
		t.Error("budget applied twice")
	}
}

func TestMigrate_BudgetFailureReported(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore(outbox.Options{})
	client := &ledgertest.MockClient{UpsertBudgetFunc: func(ctx context.Context, b domain.Budget) error {
		return errors.New("rejected")
	}}
	m := NewMigrator(store, &MockImporter{}, client)

	if _, err := store.StageBudget(ctx, "u1", domain.Budget{Month: "2025-10", Category: "식비", Amount: 1}); err != nil {
		t.Fatal(err)
	}

	report := m.Migrate(ctx, "u1", nil)
	if report.BudgetApplied || len(report.Errors) != 1 {
		t.Errorf("report = %+v", report)
	}
}
