// Package importer pushes drafts to the ledger server and recovers the ids it
// assigned so notes can be attached afterwards.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/csvimport"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/events"
	"github.com/dvloznov/accountbook/internal/ledger"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/matcher"
	"github.com/dvloznov/accountbook/internal/normalize"
	"github.com/dvloznov/accountbook/internal/notes"
	"golang.org/x/sync/errgroup"
)

// ErrNoValidRows is returned when parsing leaves nothing to import.
var ErrNoValidRows = errors.New("no valid rows to import")

// ErrInvalidFile wraps every parse failure of Import and ImportFile.
var ErrInvalidFile = errors.New("invalid import file")

const (
	defaultPageSize        = 200
	defaultMaxPages        = 20
	defaultNoteConcurrency = 4
)

// Publisher announces ledger changes. *events.Bus satisfies it.
type Publisher interface {
	Publish(topic events.Topic, payload any) int
}

// Options tunes the orchestrator. Zero values select defaults.
type Options struct {
	// UserID scopes the ledger.refresh announcement to the owner's views.
	UserID string
	// PageSize and MaxPages bound the reload used for matching.
	PageSize int
	MaxPages int
	// NoteConcurrency bounds concurrent note uploads.
	NoteConcurrency int
	// Notes, when set, receives every attached note.
	Notes *notes.Cache
}

// Result summarizes one import. IDs holds the resolved id per draft, "" when
// the draft could not be matched.
type Result struct {
	Imported      int      `json:"imported"`
	NotesAttached int      `json:"notes_attached"`
	NotesFailed   int      `json:"notes_failed"`
	Unmatched     int      `json:"unmatched"`
	Dropped       int      `json:"dropped"`
	IDs           []string `json:"ids"`
}

// Orchestrator runs bulk imports against a ledger client.
type Orchestrator struct {
	client ledger.Client
	bus    Publisher
	opts   Options
}

// New creates an orchestrator. bus may be nil.
func New(client ledger.Client, bus Publisher, opts Options) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.NoteConcurrency <= 0 {
		opts.NoteConcurrency = defaultNoteConcurrency
	}
	return &Orchestrator{client: client, bus: bus, opts: opts}
}

// Import parses CSV text and imports the valid rows.
func (o *Orchestrator) Import(ctx context.Context, text string) (Result, error) {
	parsed, err := csvimport.Parse(text)
	if err != nil {
		return Result{}, fmt.Errorf("Import: %w: %w", ErrInvalidFile, err)
	}
	return o.importParsed(ctx, parsed)
}

// ImportFile imports a spreadsheet named name. Files ending in .xlsx are read
// as workbooks, everything else as CSV.
func (o *Orchestrator) ImportFile(ctx context.Context, name string, r io.Reader) (Result, error) {
	var (
		parsed csvimport.Result
		err    error
	)
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		parsed, err = csvimport.ParseXLSX(r)
	} else {
		parsed, err = csvimport.ParseReader(r)
	}
	if err != nil {
		return Result{}, fmt.Errorf("ImportFile: %w: %s: %w", ErrInvalidFile, name, err)
	}
	return o.importParsed(ctx, parsed)
}

func (o *Orchestrator) importParsed(ctx context.Context, parsed csvimport.Result) (Result, error) {
	result, err := o.ImportDrafts(ctx, parsed.Drafts)
	result.Dropped = parsed.Dropped
	return result, err
}

// ImportDrafts creates drafts, resolves their ids and attaches their notes.
// A failed create aborts with an error; nothing is rolled back. Reload and
// note failures only reduce the counts in Result.
func (o *Orchestrator) ImportDrafts(ctx context.Context, drafts []domain.Draft) (Result, error) {
	if len(drafts) == 0 {
		return Result{}, ErrNoValidRows
	}
	log := logger.FromContext(ctx)

	payload := make([]domain.Draft, len(drafts))
	for i, d := range drafts {
		payload[i] = d.WithoutNote()
	}

	resp, err := o.client.CreateEntries(ctx, payload)
	if err != nil {
		return Result{}, fmt.Errorf("ImportDrafts: creating %d entries: %w", len(drafts), err)
	}

	claimed := matcher.Claimed{}
	ids := capture(resp, len(drafts), claimed)

	if missing := missingIndexes(ids); len(missing) > 0 {
		if err := o.resolve(ctx, drafts, ids, missing, claimed); err != nil {
			log.Warn().Err(err).Int("missing", len(missing)).Msg("Failed to reload entries for matching")
		}
	}

	result := Result{Imported: len(drafts), IDs: ids}
	for _, id := range ids {
		if id == "" {
			result.Unmatched++
		}
	}

	result.NotesAttached, result.NotesFailed = o.attachNotes(ctx, drafts, ids)

	if o.bus != nil {
		o.bus.Publish(events.TopicLedgerRefresh.For(o.opts.UserID), nil)
	}

	log.Info().
		Int("imported", result.Imported).
		Int("unmatched", result.Unmatched).
		Int("notes_attached", result.NotesAttached).
		Int("notes_failed", result.NotesFailed).
		Msg("Import completed")

	return result, nil
}

// capture reads ids positionally from a create response that lists exactly
// one record per draft. Other shapes yield no ids.
func capture(resp any, n int, claimed matcher.Claimed) []string {
	ids := make([]string, n)
	entries := normalize.Entries(resp)
	if len(entries) != n {
		return ids
	}
	for i, e := range entries {
		if e.ID == "" || claimed.Has(e.ID) {
			continue
		}
		ids[i] = e.ID
		claimed.Claim(e.ID)
	}
	return ids
}

func missingIndexes(ids []string) []int {
	var missing []int
	for i, id := range ids {
		if id == "" {
			missing = append(missing, i)
		}
	}
	return missing
}

// resolve reloads the date range spanned by the unresolved drafts and fills
// ids in place by key matching.
func (o *Orchestrator) resolve(ctx context.Context, drafts []domain.Draft, ids []string, missing []int, claimed matcher.Claimed) error {
	pending := make([]domain.Draft, len(missing))
	for i, idx := range missing {
		pending[i] = drafts[idx]
	}

	start, end, err := dateRange(pending)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	fresh, err := o.reload(ctx, start, end)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	matched := matcher.Match(pending, fresh, claimed)
	for i, idx := range missing {
		ids[idx] = matched[i]
	}
	return nil
}

// reload loads [start, end] page by page until a short page or MaxPages.
func (o *Orchestrator) reload(ctx context.Context, start, end civil.Date) ([]domain.LedgerEntry, error) {
	var fresh []domain.LedgerEntry
	for page := 0; page < o.opts.MaxPages; page++ {
		resp, err := o.client.LoadEntries(ctx, start, end, ledger.Page{Number: page, Size: o.opts.PageSize})
		if err != nil {
			return nil, fmt.Errorf("reload: loading page %d: %w", page, err)
		}
		entries := normalize.Entries(resp)
		fresh = append(fresh, entries...)
		if len(entries) < o.opts.PageSize {
			break
		}
	}
	return fresh, nil
}

func dateRange(drafts []domain.Draft) (civil.Date, civil.Date, error) {
	var start, end civil.Date
	for i, d := range drafts {
		date, err := civil.ParseDate(d.Date)
		if err != nil {
			return start, end, fmt.Errorf("dateRange: draft %d: %w", i, err)
		}
		if i == 0 || date.Before(start) {
			start = date
		}
		if i == 0 || end.Before(date) {
			end = date
		}
	}
	return start, end, nil
}

// attachNotes uploads every non-empty note whose draft has an id, waits for
// all of them and counts the outcomes. One failure never cancels the rest.
func (o *Orchestrator) attachNotes(ctx context.Context, drafts []domain.Draft, ids []string) (int, int) {
	log := logger.FromContext(ctx)

	var attached, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(o.opts.NoteConcurrency)

	for i, d := range drafts {
		if d.Note == "" || ids[i] == "" {
			continue
		}
		id, text := ids[i], d.Note
		g.Go(func() error {
			if err := o.client.UpsertNote(ctx, id, text); err != nil {
				failed.Add(1)
				log.Warn().Err(err).Str("entry_id", id).Msg("Failed to attach note")
				return nil
			}
			attached.Add(1)
			if o.opts.Notes != nil {
				o.opts.Notes.Set(id, text)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(attached.Load()), int(failed.Load())
}
