// Package accountbook is the ledger view: one user's entries for one month,
// kept current by events from other features.
package accountbook

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/accountbook/internal/bridge"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/events"
	"github.com/dvloznov/accountbook/internal/importer"
	"github.com/dvloznov/accountbook/internal/ledger"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/normalize"
	"github.com/dvloznov/accountbook/internal/notes"
	"github.com/dvloznov/accountbook/internal/outbox"
)

const viewName = "accountbook"

// Importer persists drafts. *importer.Orchestrator satisfies it.
type Importer interface {
	ImportDrafts(ctx context.Context, drafts []domain.Draft) (importer.Result, error)
}

// Migrator drains staged work. *bridge.Migrator satisfies it.
type Migrator interface {
	Migrate(ctx context.Context, userID string, scope *domain.Month) bridge.Report
}

// Options tunes loading. Zero values select defaults.
type Options struct {
	PageSize        int
	MaxPages        int
	PrefetchLimit   int
	NoteConcurrency int
}

// Deps are the collaborators of a Book.
type Deps struct {
	Client   ledger.Client
	Importer Importer
	Migrator Migrator
	Outbox   outbox.Store
	Bus      *events.Bus
	Notes    *notes.Cache
}

// Book is safe for concurrent use.
type Book struct {
	userID string
	deps   Deps
	opts   Options

	mu      sync.Mutex
	active  bool
	month   domain.Month
	entries []domain.LedgerEntry
	baseCtx context.Context
}

// New creates an inactive book for userID.
func New(userID string, deps Deps, opts Options) *Book {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.PrefetchLimit <= 0 {
		opts.PrefetchLimit = 50
	}
	if deps.Notes == nil {
		deps.Notes = notes.New(deps.Client)
	}
	return &Book{userID: userID, deps: deps, opts: opts}
}

// Activate drains the outbox for month, loads the month and starts
// listening for events. Calling it again switches months.
func (b *Book) Activate(ctx context.Context, month domain.Month) (bridge.Report, error) {
	ctx = logger.WithContext(ctx, logger.ForUser(logger.FromContext(ctx), b.userID))

	var report bridge.Report
	if b.deps.Migrator != nil {
		report = b.deps.Migrator.Migrate(ctx, b.userID, &month)
	}

	b.mu.Lock()
	b.month = month
	b.baseCtx = context.WithoutCancel(ctx)
	wasActive := b.active
	b.active = true
	b.mu.Unlock()

	if !wasActive && b.deps.Bus != nil {
		b.subscribe()
	}

	if err := b.Reload(ctx); err != nil {
		return report, fmt.Errorf("Activate: %w", err)
	}
	return report, nil
}

// Deactivate stops listening. Events published afterwards are not seen.
func (b *Book) Deactivate() {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	if b.deps.Bus != nil {
		b.deps.Bus.Unsubscribe(b.viewID())
	}
}

// Month returns the month shown.
func (b *Book) Month() domain.Month {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.month
}

// Reload fetches the current month page by page and prefetches notes.
func (b *Book) Reload(ctx context.Context) error {
	month := b.Month()
	start, end := month.Range()

	var loaded []domain.LedgerEntry
	for page := 0; page < b.opts.MaxPages; page++ {
		resp, err := b.deps.Client.LoadEntries(ctx, start, end, ledger.Page{Number: page, Size: b.opts.PageSize})
		if err != nil {
			return fmt.Errorf("Reload: loading %s page %d: %w", month, page, err)
		}
		batch := normalize.Entries(resp)
		loaded = append(loaded, batch...)
		if len(batch) < b.opts.PageSize {
			break
		}
	}

	entries := make([]domain.LedgerEntry, 0, len(loaded))
	ids := make([]string, 0, len(loaded))
	for _, e := range loaded {
		if e.ID == "" || !month.Contains(e.Date) {
			continue
		}
		if e.Note != "" {
			b.deps.Notes.Set(e.ID, e.Note)
		}
		entries = append(entries, e)
		ids = append(ids, e.ID)
	}
	sortEntries(entries)

	b.mu.Lock()
	if b.month == month {
		b.entries = entries
	}
	b.mu.Unlock()

	b.deps.Notes.Prefetch(ctx, ids, b.opts.PrefetchLimit, b.opts.NoteConcurrency)
	return nil
}

// Entries returns a snapshot of the month with cached notes filled in.
func (b *Book) Entries() []domain.LedgerEntry {
	b.mu.Lock()
	out := append([]domain.LedgerEntry(nil), b.entries...)
	b.mu.Unlock()

	for i := range out {
		if text, ok := b.deps.Notes.Peek(out[i].ID); ok {
			out[i].Note = text
		}
	}
	return out
}

// Note returns the note of one entry, loading it if needed.
func (b *Book) Note(ctx context.Context, id string) (string, error) {
	return b.deps.Notes.Get(ctx, id)
}

// Update replaces an entry's fields and, when it changed, its note.
func (b *Book) Update(ctx context.Context, entry domain.LedgerEntry) error {
	if err := b.deps.Client.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	if current, ok := b.deps.Notes.Peek(entry.ID); !ok || current != entry.Note {
		if err := b.deps.Client.UpsertNote(ctx, entry.ID, entry.Note); err != nil {
			b.deps.Notes.Invalidate(entry.ID)
			return fmt.Errorf("Update: saving note: %w", err)
		}
		b.deps.Notes.Set(entry.ID, entry.Note)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		if b.entries[i].ID != entry.ID {
			continue
		}
		if b.month.Contains(entry.Date) {
			b.entries[i] = entry
		} else {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
		}
		break
	}
	sortEntries(b.entries)
	return nil
}

// Delete removes an entry.
func (b *Book) Delete(ctx context.Context, id string) error {
	if err := b.deps.Client.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	b.deps.Notes.Invalidate(id)

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		if b.entries[i].ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (b *Book) viewID() string {
	return viewName + ":" + b.userID
}

func (b *Book) subscribe() {
	view := b.viewID()
	b.deps.Bus.Subscribe(events.TopicEntrySaved.For(b.userID), view, b.onEntrySaved)
	b.deps.Bus.Subscribe(events.TopicBudgetSaved.For(b.userID), view, b.onBudgetSaved)
	b.deps.Bus.Subscribe(events.TopicLedgerRefresh.For(b.userID), view, b.onRefresh)
}

func (b *Book) handlerContext() (context.Context, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baseCtx, b.active
}

// onEntrySaved persists a draft announced by another feature. If the write
// fails the draft goes to the outbox so the next activation retries it.
func (b *Book) onEntrySaved(payload any) {
	ev, ok := payload.(events.EntrySaved)
	if !ok || ev.UserID != b.userID {
		return
	}
	ctx, active := b.handlerContext()
	if !active {
		return
	}
	log := logger.FromContext(ctx)

	if _, err := b.deps.Importer.ImportDrafts(ctx, []domain.Draft{ev.Item}); err != nil {
		log.Warn().Err(err).Msg("Failed to save announced entry, staging it")
		if b.deps.Outbox != nil {
			if _, err := b.deps.Outbox.Stage(ctx, b.userID, outbox.KindMission, []domain.Draft{ev.Item}); err != nil {
				log.Error().Err(err).Msg("Failed to stage announced entry")
			}
		}
	}
}

func (b *Book) onBudgetSaved(payload any) {
	ev, ok := payload.(events.BudgetSaved)
	if !ok || ev.UserID != b.userID {
		return
	}
	ctx, active := b.handlerContext()
	if !active {
		return
	}
	log := logger.FromContext(ctx)

	if err := b.deps.Client.UpsertBudget(ctx, ev.Budget); err != nil {
		log.Warn().Err(err).Msg("Failed to save announced budget, staging it")
		if b.deps.Outbox != nil {
			if _, err := b.deps.Outbox.StageBudget(ctx, b.userID, ev.Budget); err != nil {
				log.Error().Err(err).Msg("Failed to stage announced budget")
			}
		}
	}
}

func (b *Book) onRefresh(any) {
	ctx, active := b.handlerContext()
	if !active {
		return
	}
	if err := b.Reload(ctx); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to refresh ledger")
	}
}

// sortEntries orders newest first: by date, then by id.
func sortEntries(entries []domain.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date > entries[j].Date
		}
		return domain.CompareIDs(entries[i].ID, entries[j].ID) > 0
	})
}
