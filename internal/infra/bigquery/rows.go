package bigquery

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/google/uuid"
)

const (
	entriesTable = "entries"
	notesTable   = "entry_notes"
	budgetsTable = "budgets"
	pointsTable  = "points_ledger"
)

// EntryRow is a row of the entries table.
type EntryRow struct {
	EntryID   string     `bigquery:"entry_id"`   // REQUIRED
	UserID    string     `bigquery:"user_id"`    // REQUIRED
	Category  string     `bigquery:"category"`   // REQUIRED
	EntryDate civil.Date `bigquery:"entry_date"` // REQUIRED
	Amount    int64      `bigquery:"amount"`     // REQUIRED
	CreatedTS time.Time  `bigquery:"created_ts"` // REQUIRED
}

// NoteRow is a row of the entry_notes side table.
type NoteRow struct {
	EntryID   string    `bigquery:"entry_id"`
	Note      string    `bigquery:"note"`
	UpdatedTS time.Time `bigquery:"updated_ts"`
}

// BudgetRow is a row of the budgets table.
type BudgetRow struct {
	UserID    string    `bigquery:"user_id"`
	Month     string    `bigquery:"month"` // YYYY-MM
	Category  string    `bigquery:"category"`
	Amount    int64     `bigquery:"amount"`
	UpdatedTS time.Time `bigquery:"updated_ts"`
}

// PointsRow is an append-only points movement.
type PointsRow struct {
	MovementID string    `bigquery:"movement_id"`
	UserID     string    `bigquery:"user_id"`
	Points     int64     `bigquery:"points"` // negative for redemptions
	Reason     string    `bigquery:"reason"`
	CreatedTS  time.Time `bigquery:"created_ts"`
}

// newEntryRows assigns time-ordered ids so lexicographic id order follows
// insertion order.
func newEntryRows(userID string, drafts []domain.Draft, now time.Time) ([]EntryRow, error) {
	rows := make([]EntryRow, 0, len(drafts))
	for i, d := range drafts {
		date, err := civil.ParseDate(d.Date)
		if err != nil {
			return nil, fmt.Errorf("newEntryRows: row %d: %w", i, err)
		}
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("newEntryRows: generate id: %w", err)
		}
		rows = append(rows, EntryRow{
			EntryID:   id.String(),
			UserID:    userID,
			Category:  d.Category,
			EntryDate: date,
			Amount:    d.Amount,
			CreatedTS: now,
		})
	}
	return rows, nil
}

// record renders the row in the JSON shape the normalizer reads.
func (r EntryRow) record() map[string]any {
	return map[string]any{
		"id":       r.EntryID,
		"category": r.Category,
		"date":     r.EntryDate.String(),
		"amount":   r.Amount,
	}
}

// createAck mirrors the REST backend's create response with one record per row.
func createAck(rows []EntryRow) map[string]any {
	data := make([]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, r.record())
	}
	return map[string]any{"success": true, "data": data}
}
