// Package bridge moves drafts staged by other features into the ledger when
// the ledger view becomes active.
package bridge

import (
	"context"

	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/importer"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/outbox"
)

// Importer persists drafts. *importer.Orchestrator satisfies it.
type Importer interface {
	ImportDrafts(ctx context.Context, drafts []domain.Draft) (importer.Result, error)
}

// BudgetWriter upserts a budget. ledger.Client satisfies it.
type BudgetWriter interface {
	UpsertBudget(ctx context.Context, budget domain.Budget) error
}

// Report describes one migration run. Errors are reported here, never returned.
type Report struct {
	BatchID       string          `json:"batch_id,omitempty"`
	Migrated      int             `json:"migrated"`
	Deferred      int             `json:"deferred"`
	Import        importer.Result `json:"import"`
	BudgetApplied bool            `json:"budget_applied"`
	Errors        []string        `json:"errors,omitempty"`
}

// Migrator drains a user's outbox into the ledger.
type Migrator struct {
	store   outbox.Store
	imp     Importer
	budgets BudgetWriter
}

// NewMigrator creates a migrator.
func NewMigrator(store outbox.Store, imp Importer, budgets BudgetWriter) *Migrator {
	return &Migrator{store: store, imp: imp, budgets: budgets}
}

// Migrate claims the user's staged mission drafts and imports them, then
// applies a staged budget. With a scope, drafts dated outside that month are
// staged again for a later run instead of being imported.
func (m *Migrator) Migrate(ctx context.Context, userID string, scope *domain.Month) Report {
	log := logger.ForUser(logger.FromContext(ctx), userID)
	ctx = logger.WithContext(ctx, log)

	var report Report
	m.migrateDrafts(ctx, userID, scope, &report)
	m.migrateBudget(ctx, userID, &report)
	return report
}

func (m *Migrator) migrateDrafts(ctx context.Context, userID string, scope *domain.Month, report *Report) {
	log := logger.FromContext(ctx)

	batch, err := m.store.Claim(ctx, userID, outbox.KindMission)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim staged drafts")
		report.Errors = append(report.Errors, err.Error())
		return
	}
	if batch == nil {
		return
	}
	report.BatchID = batch.ID
	log = log.With().Str("batch_id", batch.ID).Logger()

	drafts, deferred := split(batch.Drafts, scope)
	if len(deferred) > 0 {
		if _, err := m.store.Stage(ctx, userID, outbox.KindMission, deferred); err != nil {
			// Import them now rather than lose them.
			log.Warn().Err(err).Int("drafts", len(deferred)).Msg("Failed to restage out-of-scope drafts")
			drafts = batch.Drafts
		} else {
			report.Deferred = len(deferred)
			// The claimed batch keeps only what this run imports.
			batch.Drafts = drafts
		}
	}

	var runErr error
	if len(drafts) > 0 {
		report.Import, runErr = m.imp.ImportDrafts(ctx, drafts)
		if runErr != nil {
			log.Error().Err(runErr).Int("drafts", len(drafts)).Msg("Failed to import staged drafts")
			report.Errors = append(report.Errors, runErr.Error())
		} else {
			report.Migrated = len(drafts)
		}
	}

	if err := m.store.Complete(ctx, batch, runErr); err != nil {
		log.Error().Err(err).Msg("Failed to complete staged batch")
		report.Errors = append(report.Errors, err.Error())
	}
}

func (m *Migrator) migrateBudget(ctx context.Context, userID string, report *Report) {
	log := logger.FromContext(ctx)

	batch, err := m.store.Claim(ctx, userID, outbox.KindBudget)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim staged budget")
		report.Errors = append(report.Errors, err.Error())
		return
	}
	if batch == nil {
		return
	}

	var runErr error
	if batch.Budget != nil {
		if runErr = m.budgets.UpsertBudget(ctx, *batch.Budget); runErr != nil {
			log.Error().Err(runErr).Str("batch_id", batch.ID).Msg("Failed to apply staged budget")
			report.Errors = append(report.Errors, runErr.Error())
		} else {
			report.BudgetApplied = true
		}
	}

	if err := m.store.Complete(ctx, batch, runErr); err != nil {
		log.Error().Err(err).Msg("Failed to complete staged budget")
		report.Errors = append(report.Errors, err.Error())
	}
}

// split separates drafts inside scope from the rest. A nil scope keeps all.
func split(drafts []domain.Draft, scope *domain.Month) (in, out []domain.Draft) {
	if scope == nil {
		return drafts, nil
	}
	for _, d := range drafts {
		if scope.Contains(d.Date) {
			in = append(in, d)
		} else {
			out = append(out, d)
		}
	}
	return in, out
}
