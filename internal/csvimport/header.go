package csvimport

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Header aliases, matched case-insensitively.
var (
	dateAliases     = []string{"date", "날짜"}
	categoryAliases = []string{"category", "카테고리"}
	amountAliases   = []string{"amount", "금액"}
	memoAliases     = []string{"memo", "note", "메모", "내용", "설명", "subcategory", "소분류"}
)

// columns holds the resolved column positions; memo is -1 when absent.
type columns struct {
	date     int
	category int
	amount   int
	memo     int
}

func resolveColumns(header []string) (columns, error) {
	cols := columns{
		date:     findColumn(header, dateAliases),
		category: findColumn(header, categoryAliases),
		amount:   findColumn(header, amountAliases),
		memo:     findColumn(header, memoAliases),
	}

	var missing []string
	if cols.date < 0 {
		missing = append(missing, "date")
	}
	if cols.category < 0 {
		missing = append(missing, "category")
	}
	if cols.amount < 0 {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	return cols, nil
}

func findColumn(header []string, aliases []string) int {
	for i, cell := range header {
		name := canonical(cell)
		for _, alias := range aliases {
			if name == alias {
				return i
			}
		}
	}
	return -1
}

// canonical lowercases and NFC-normalizes a cell. Spreadsheets saved on
// macOS often carry decomposed Hangul.
func canonical(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}
