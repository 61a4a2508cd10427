package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DateLayout is the ISO calendar date form used for every entry and draft date.
const DateLayout = "2006-01-02"

// DefaultCategory is assigned when no keyword cluster matches a category.
const DefaultCategory = "기타"

// LedgerEntry is an entry owned by the ledger server.
// ID is assigned exclusively by the server; the client never fabricates one.
type LedgerEntry struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Date     string `json:"date"` // YYYY-MM-DD
	Amount   int64  `json:"amount"`
	Note     string `json:"note,omitempty"` // stored in a side channel keyed by ID
}

// Key returns the approximate natural key of the entry.
func (e LedgerEntry) Key() MatchKey {
	return MatchKey{Category: e.Category, Date: e.Date, Amount: e.Amount}
}

// Draft is an entry that has not been acknowledged by the server yet.
type Draft struct {
	Category string `json:"category"`
	Date     string `json:"date"` // YYYY-MM-DD
	Amount   int64  `json:"amount"`
	Note     string `json:"memo,omitempty"`
}

// Key returns the approximate natural key of the draft.
func (d Draft) Key() MatchKey {
	return MatchKey{Category: d.Category, Date: d.Date, Amount: d.Amount}
}

// WithoutNote returns the fields sent to the create call.
func (d Draft) WithoutNote() Draft {
	d.Note = ""
	return d
}

// MatchKey is the (category, date, amount) tuple used to pair drafts with
// server entries. It is not unique: identical purchases share a key.
type MatchKey struct {
	Category string
	Date     string
	Amount   int64
}

func (k MatchKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.Category, k.Date, k.Amount)
}

// Budget is a monthly spending limit for one category.
type Budget struct {
	Month    string `json:"month"` // YYYY-MM
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

// Month identifies a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing d.
func MonthOf(d civil.Date) Month {
	return Month{Year: d.Year, Month: d.Month}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// Range returns the first and last day of the month.
func (m Month) Range() (civil.Date, civil.Date) {
	first := civil.Date{Year: m.Year, Month: m.Month, Day: 1}
	last := civil.DateOf(time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.UTC))
	return first, last
}

// Contains reports whether the ISO date s falls inside the month.
func (m Month) Contains(s string) bool {
	d, err := civil.ParseDate(s)
	if err != nil {
		return false
	}
	return d.Year == m.Year && d.Month == m.Month
}

// Next returns the following month.
func (m Month) Next() Month {
	return MonthOf(civil.DateOf(time.Date(m.Year, m.Month+1, 1, 0, 0, 0, 0, time.UTC)))
}

// Prev returns the preceding month.
func (m Month) Prev() Month {
	return MonthOf(civil.DateOf(time.Date(m.Year, m.Month-1, 1, 0, 0, 0, 0, time.UTC)))
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// CompareIDs orders two server identifiers. Integer ids compare numerically,
// anything else compares lexicographically (time-ordered UUIDs sort by creation).
func CompareIDs(a, b string) int {
	ai, aErr := strconv.ParseUint(a, 10, 64)
	bi, bErr := strconv.ParseUint(b, 10, 64)
	if aErr == nil && bErr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
