package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/accountbook/internal/csvimport"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/outbox"
	"github.com/shopspring/decimal"
)

// LegacyFileName holds expenses staged by older clients under a single
// key, before per-user batches existed.
const LegacyFileName = "pending-mission-expenses.json"

// legacyExpense is the pre-batch payload. The mission title doubles as
// category hint and note.
type legacyExpense struct {
	Title  string          `json:"title"`
	Amount json.RawMessage `json:"amount"`
	Date   string          `json:"date"`
}

// adoptLegacy folds the legacy file into doc as a pending mission batch.
// It reports whether the legacy file was consumed.
func (s *Store) adoptLegacy(ctx context.Context, doc *outbox.Document) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, LegacyFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading legacy outbox: %w", err)
	}

	log := logger.FromContext(ctx)

	var items []legacyExpense
	if err := json.Unmarshal(data, &items); err != nil {
		// An unreadable legacy file is discarded rather than blocking the outbox.
		log.Warn().Err(err).Msg("Discarding unreadable legacy outbox")
		return true, nil
	}

	drafts := convertLegacy(items)
	if len(drafts) == 0 {
		return true, nil
	}
	if len(drafts) > s.opts.Capacity {
		log.Warn().Int("drafts", len(drafts)).Int("capacity", s.opts.Capacity).Msg("Truncating legacy outbox")
		drafts = drafts[:s.opts.Capacity]
	}

	now := s.now()
	b := doc.Pending(outbox.KindMission)
	if b == nil || len(b.Drafts)+len(drafts) > s.opts.Capacity {
		if b, err = outbox.NewBatch(s.defaultUser, outbox.KindMission, now); err != nil {
			return false, err
		}
		doc.Batches = append(doc.Batches, b)
	}
	b.Drafts = append(b.Drafts, drafts...)
	b.UpdatedAt = now

	log.Info().Int("drafts", len(drafts)).Str("batch_id", b.ID).Msg("Adopted legacy staged expenses")
	return true, nil
}

func convertLegacy(items []legacyExpense) []domain.Draft {
	drafts := make([]domain.Draft, 0, len(items))
	for _, item := range items {
		date, ok := csvimport.NormalizeDate(item.Date)
		if !ok {
			continue
		}
		amount, ok := legacyAmount(item.Amount)
		if !ok || amount < 0 {
			continue
		}
		title := strings.TrimSpace(item.Title)
		drafts = append(drafts, domain.Draft{
			Category: csvimport.ClassifyCategory(title, ""),
			Date:     date,
			Amount:   amount,
			Note:     title,
		})
	}
	return drafts
}

// legacyAmount accepts a JSON number or a numeric string.
func legacyAmount(raw json.RawMessage) (int64, bool) {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := jsonString(raw); err == nil {
		s = unquoted
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, false
	}
	return d.IntPart(), true
}

func jsonString(raw json.RawMessage) (string, error) {
	var s string
	err := json.Unmarshal(raw, &s)
	return strings.TrimSpace(s), err
}
