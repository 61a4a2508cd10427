package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/shopspring/decimal"
)

// Alias paths, in priority order.
var (
	idPaths = []string{
		"$.id", "$.entryId", "$.entry_id", "$.expenseId", "$.expense_id",
		"$.ledgerId", "$.transactionId", "$._id",
	}
	categoryPaths = []string{"$.category", "$.categoryName", "$.category_name"}
	// Nested category objects ({"category": {"name": "식비"}}).
	categoryObjectPaths = []string{"$.category.name", "$.category.label", "$.category.title"}
	categoryFallbackPaths = []string{"$.type", "$.kind"}
	datePaths = []string{
		"$.date", "$.expenseDate", "$.expense_date", "$.spentAt", "$.spent_at",
		"$.createdAt", "$.created_at", "$.timestamp",
	}
	amountPaths = []string{"$.amount", "$.price", "$.cost", "$.value", "$.total"}
	notePaths   = []string{"$.note", "$.memo", "$.description", "$.content", "$.text"}
)

// ToEntry maps a raw record onto the canonical entry shape.
// Unresolvable fields are left empty; the amount defaults to 0.
func ToEntry(raw map[string]any) domain.LedgerEntry {
	entry := domain.LedgerEntry{
		ID:   firstScalar(raw, idPaths),
		Date: truncateDate(firstString(raw, datePaths)),
		Note: firstString(raw, notePaths),
	}

	entry.Category = firstString(raw, categoryPaths)
	if entry.Category == "" {
		entry.Category = firstString(raw, categoryObjectPaths)
	}
	if entry.Category == "" {
		entry.Category = firstString(raw, categoryFallbackPaths)
	}

	for _, path := range amountPaths {
		if amount, ok := toInt(lookup(raw, path)); ok {
			entry.Amount = amount
			break
		}
	}

	return entry
}

// Entries normalizes a decoded response straight into entries.
func Entries(v any) []domain.LedgerEntry {
	records := Records(v)
	out := make([]domain.LedgerEntry, 0, len(records))
	for _, r := range records {
		out = append(out, ToEntry(r))
	}
	return out
}

func lookup(raw map[string]any, path string) any {
	v, err := jsonpath.Get(path, raw)
	if err != nil {
		return nil
	}
	return v
}

func firstString(raw map[string]any, paths []string) string {
	for _, path := range paths {
		if s, ok := lookup(raw, path).(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstScalar resolves string or numeric identifiers.
func firstScalar(raw map[string]any, paths []string) string {
	for _, path := range paths {
		switch v := lookup(raw, path).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return decimal.NewFromFloat(v).String()
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

func toInt(v any) (int64, bool) {
	var (
		d   decimal.Decimal
		err error
	)
	switch val := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(val.String())
	case float64:
		d = decimal.NewFromFloat(val)
	case int:
		return int64(val), true
	case int64:
		return val, true
	case string:
		cleaned := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(val))
		if cleaned == "" {
			return 0, false
		}
		d, err = decimal.NewFromString(cleaned)
	default:
		return 0, false
	}
	if err != nil {
		return 0, false
	}
	return d.IntPart(), true
}

func truncateDate(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}
