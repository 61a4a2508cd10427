// Package csvimport turns account-book spreadsheets into ledger drafts.
package csvimport

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/accountbook/internal/domain"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrMissingColumns is returned when the header lacks date, category or amount.
	ErrMissingColumns = errors.New("header missing required columns")

	// ErrEmptyInput is returned when there is no header line at all.
	ErrEmptyInput = errors.New("empty input")
)

// Result is the outcome of parsing one file.
type Result struct {
	Drafts  []domain.Draft
	Rows    int // data rows seen, header excluded
	Dropped int // rows skipped for a bad date, amount or category
}

// Parse parses CSV text. A leading UTF-8 byte-order mark is ignored.
func Parse(text string) (Result, error) {
	text = strings.TrimPrefix(text, "\ufeff")

	lines := splitLines(text)
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, SplitLine(line))
	}
	return ParseRows(rows)
}

// ParseReader reads CSV from r, honouring UTF-8 and UTF-16 byte-order marks.
func ParseReader(r io.Reader) (Result, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	data, err := io.ReadAll(decoded)
	if err != nil {
		return Result{}, fmt.Errorf("ParseReader: reading input: %w", err)
	}
	return Parse(string(data))
}

// ParseRows maps already tokenized rows (header first) onto drafts.
func ParseRows(rows [][]string) (Result, error) {
	if len(rows) == 0 {
		return Result{}, ErrEmptyInput
	}

	cols, err := resolveColumns(rows[0])
	if err != nil {
		return Result{}, err
	}

	result := Result{Drafts: make([]domain.Draft, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		result.Rows++

		draft, ok := parseRow(row, cols)
		if !ok {
			result.Dropped++
			continue
		}
		result.Drafts = append(result.Drafts, draft)
	}

	return result, nil
}

func parseRow(row []string, cols columns) (domain.Draft, bool) {
	date, ok := NormalizeDate(cell(row, cols.date))
	if !ok {
		return domain.Draft{}, false
	}

	amount, ok := ParseAmount(cell(row, cols.amount))
	if !ok || amount < 0 {
		return domain.Draft{}, false
	}

	memo := ""
	if cols.memo >= 0 {
		memo = strings.TrimSpace(cell(row, cols.memo))
	}

	return domain.Draft{
		Category: ClassifyCategory(cell(row, cols.category), memo),
		Date:     date,
		Amount:   amount,
		Note:     memo,
	}, true
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
