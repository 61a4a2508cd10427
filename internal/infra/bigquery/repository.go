// Package bigquery stores the ledger in BigQuery tables so the account book can
// run without the REST backend. Entries, notes, budgets and points each live in
// their own table of one dataset.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/ledger"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

var (
	// ErrEntryNotFound is returned when an update or delete matches no row.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrInsufficientPoints is returned when a redemption exceeds the balance.
	ErrInsufficientPoints = errors.New("insufficient points")
)

// Repository holds a shared BigQuery client for one dataset.
type Repository struct {
	client  *bigquery.Client
	project string
	dataset string
	now     func() time.Time
}

// NewRepository creates a client for projectID and stores data in datasetID.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, datasetID), nil
}

// NewRepositoryWithClient wraps an existing client.
func NewRepositoryWithClient(client *bigquery.Client, datasetID string) *Repository {
	return &Repository{
		client:  client,
		project: client.Project(),
		dataset: datasetID,
		now:     time.Now,
	}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ForUser returns the ledger of one user.
func (r *Repository) ForUser(userID string) *Ledger {
	return &Ledger{repo: r, userID: userID}
}

func (r *Repository) table(name string) string {
	return tableRef(r.project, r.dataset, name)
}

func tableRef(project, dataset, name string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, name)
}

// exec runs a DML statement and returns the number of affected rows.
func (r *Repository) exec(ctx context.Context, op, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := r.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// Award appends a positive points movement.
func (r *Repository) Award(ctx context.Context, userID string, points int, reason string) error {
	return r.movePoints(ctx, "Award", userID, int64(points), reason)
}

// Redeem appends a negative points movement if the balance covers it.
func (r *Repository) Redeem(ctx context.Context, userID string, points int, reason string) error {
	balance, err := r.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("Redeem: %w", err)
	}
	if balance < int64(points) {
		return fmt.Errorf("Redeem: %w: balance %d, requested %d", ErrInsufficientPoints, balance, points)
	}
	return r.movePoints(ctx, "Redeem", userID, -int64(points), reason)
}

// Balance sums every points movement of the user.
func (r *Repository) Balance(ctx context.Context, userID string) (int64, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT SUM(points) AS balance
		FROM %s
		WHERE user_id = @user_id
	`, r.table(pointsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("Balance: query read: %w", err)
	}
	var row struct {
		Balance bigquery.NullInt64 `bigquery:"balance"`
	}
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return 0, fmt.Errorf("Balance: iter next: %w", err)
	}
	return row.Balance.Int64, nil
}

func (r *Repository) movePoints(ctx context.Context, op, userID string, points int64, reason string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("%s: generate id: %w", op, err)
	}
	row := &PointsRow{
		MovementID: id.String(),
		UserID:     userID,
		Points:     points,
		Reason:     reason,
		CreatedTS:  r.now(),
	}
	inserter := r.client.DatasetInProject(r.project, r.dataset).Table(pointsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("%s: inserting movement: %w", op, err)
	}
	return nil
}

// Ledger is the ledger.Client of one user backed by BigQuery.
type Ledger struct {
	repo   *Repository
	userID string
}

// entryView is an entry joined with its note.
type entryView struct {
	EntryID   string              `bigquery:"entry_id"`
	Category  string              `bigquery:"category"`
	EntryDate civil.Date          `bigquery:"entry_date"`
	Amount    int64               `bigquery:"amount"`
	Note      bigquery.NullString `bigquery:"note"`
}

func (v entryView) record() map[string]any {
	rec := map[string]any{
		"id":       v.EntryID,
		"category": v.Category,
		"date":     v.EntryDate.String(),
		"amount":   v.Amount,
	}
	if v.Note.Valid {
		rec["note"] = v.Note.StringVal
	}
	return rec
}

// CreateEntries inserts the drafts with DML so the rows are immediately
// available to later updates and deletes. The response lists the created
// records in draft order.
func (l *Ledger) CreateEntries(ctx context.Context, drafts []domain.Draft) (any, error) {
	rows, err := newEntryRows(l.userID, drafts, l.repo.now())
	if err != nil {
		return nil, fmt.Errorf("CreateEntries: %w", err)
	}
	if len(rows) == 0 {
		return createAck(rows), nil
	}

	sql := fmt.Sprintf(`
		INSERT %s (entry_id, user_id, category, entry_date, amount, created_ts)
		SELECT entry_id, user_id, category, entry_date, amount, created_ts
		FROM UNNEST(@rows)
	`, l.repo.table(entriesTable))
	params := []bigquery.QueryParameter{{Name: "rows", Value: rows}}
	if _, err := l.repo.exec(ctx, "CreateEntries", sql, params); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("user_id", l.userID).
		Int("rows", len(rows)).
		Msg("Inserted ledger entries")
	return createAck(rows), nil
}

// LoadEntries returns one page of entries with their notes, oldest first.
func (l *Ledger) LoadEntries(ctx context.Context, start, end civil.Date, page ledger.Page) (any, error) {
	q := l.repo.client.Query(fmt.Sprintf(`
		SELECT
			e.entry_id,
			e.category,
			e.entry_date,
			e.amount,
			n.note
		FROM %s e
		LEFT JOIN %s n
		  ON n.entry_id = e.entry_id
		WHERE e.user_id = @user_id
		  AND e.entry_date >= @start_date
		  AND e.entry_date <= @end_date
		ORDER BY e.entry_date, e.entry_id
		LIMIT @limit OFFSET @offset
	`, l.repo.table(entriesTable), l.repo.table(notesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: l.userID},
		{Name: "start_date", Value: start},
		{Name: "end_date", Value: end},
		{Name: "limit", Value: int64(page.Limit())},
		{Name: "offset", Value: int64(page.Number * page.Limit())},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadEntries: query read: %w", err)
	}

	content := []any{}
	for {
		var v entryView
		err := it.Next(&v)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("LoadEntries: iter next: %w", err)
		}
		content = append(content, v.record())
	}
	return map[string]any{"content": content}, nil
}

// UpsertNote writes the note of an entry.
func (l *Ledger) UpsertNote(ctx context.Context, id, text string) error {
	sql := fmt.Sprintf(`
		MERGE %s t
		USING (SELECT @entry_id AS entry_id, @note AS note) s
		ON t.entry_id = s.entry_id
		WHEN MATCHED THEN
		  UPDATE SET note = s.note, updated_ts = @ts
		WHEN NOT MATCHED THEN
		  INSERT (entry_id, note, updated_ts) VALUES (s.entry_id, s.note, @ts)
	`, l.repo.table(notesTable))
	_, err := l.repo.exec(ctx, "UpsertNote", sql, []bigquery.QueryParameter{
		{Name: "entry_id", Value: id},
		{Name: "note", Value: text},
		{Name: "ts", Value: l.repo.now()},
	})
	return err
}

// LoadNote returns {"note": text}; a missing note is the empty string.
func (l *Ledger) LoadNote(ctx context.Context, id string) (any, error) {
	q := l.repo.client.Query(fmt.Sprintf(`
		SELECT note
		FROM %s
		WHERE entry_id = @entry_id
		LIMIT 1
	`, l.repo.table(notesTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "entry_id", Value: id}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadNote: query read: %w", err)
	}
	var row struct {
		Note bigquery.NullString `bigquery:"note"`
	}
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return nil, fmt.Errorf("LoadNote: iter next: %w", err)
	}
	return map[string]any{"note": row.Note.StringVal}, nil
}

// UpsertBudget sets the limit for (user, month, category).
func (l *Ledger) UpsertBudget(ctx context.Context, budget domain.Budget) error {
	sql := fmt.Sprintf(`
		MERGE %s t
		USING (SELECT @user_id AS user_id, @month AS month, @category AS category, @amount AS amount) s
		ON t.user_id = s.user_id AND t.month = s.month AND t.category = s.category
		WHEN MATCHED THEN
		  UPDATE SET amount = s.amount, updated_ts = @ts
		WHEN NOT MATCHED THEN
		  INSERT (user_id, month, category, amount, updated_ts)
		  VALUES (s.user_id, s.month, s.category, s.amount, @ts)
	`, l.repo.table(budgetsTable))
	_, err := l.repo.exec(ctx, "UpsertBudget", sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: l.userID},
		{Name: "month", Value: budget.Month},
		{Name: "category", Value: budget.Category},
		{Name: "amount", Value: budget.Amount},
		{Name: "ts", Value: l.repo.now()},
	})
	return err
}

// UpdateEntry replaces category, date and amount of one of the user's entries.
func (l *Ledger) UpdateEntry(ctx context.Context, entry domain.LedgerEntry) error {
	date, err := civil.ParseDate(entry.Date)
	if err != nil {
		return fmt.Errorf("UpdateEntry: %w", err)
	}
	sql := fmt.Sprintf(`
		UPDATE %s
		SET category = @category, entry_date = @entry_date, amount = @amount
		WHERE entry_id = @entry_id AND user_id = @user_id
	`, l.repo.table(entriesTable))
	n, err := l.repo.exec(ctx, "UpdateEntry", sql, []bigquery.QueryParameter{
		{Name: "category", Value: entry.Category},
		{Name: "entry_date", Value: date},
		{Name: "amount", Value: entry.Amount},
		{Name: "entry_id", Value: entry.ID},
		{Name: "user_id", Value: l.userID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("UpdateEntry: %w: %s", ErrEntryNotFound, entry.ID)
	}
	return nil
}

// DeleteEntry removes one of the user's entries and its note.
func (l *Ledger) DeleteEntry(ctx context.Context, id string) error {
	sql := fmt.Sprintf(`
		DELETE FROM %s
		WHERE entry_id = @entry_id AND user_id = @user_id
	`, l.repo.table(entriesTable))
	n, err := l.repo.exec(ctx, "DeleteEntry", sql, []bigquery.QueryParameter{
		{Name: "entry_id", Value: id},
		{Name: "user_id", Value: l.userID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("DeleteEntry: %w: %s", ErrEntryNotFound, id)
	}

	noteSQL := fmt.Sprintf(`DELETE FROM %s WHERE entry_id = @entry_id`, l.repo.table(notesTable))
	if _, err := l.repo.exec(ctx, "DeleteEntry", noteSQL, []bigquery.QueryParameter{
		{Name: "entry_id", Value: id},
	}); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("entry_id", id).Msg("Failed to delete entry note")
	}
	return nil
}

// Ensure the BigQuery types implement the ledger interfaces.
var _ ledger.Client = (*Ledger)(nil)
var _ ledger.PointsClient = (*Repository)(nil)
