package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/accountbook/internal/logger"
	"google.golang.org/api/googleapi"
)

// tableSpecs pairs each table with the row type its schema is inferred from.
var tableSpecs = []struct {
	name string
	row  any
}{
	{entriesTable, EntryRow{}},
	{notesTable, NoteRow{}},
	{budgetsTable, BudgetRow{}},
	{pointsTable, PointsRow{}},
}

// EnsureTables creates every ledger table that does not exist yet.
// The entries table is partitioned by entry_date.
func (r *Repository) EnsureTables(ctx context.Context) error {
	log := logger.FromContext(ctx)
	ds := r.client.DatasetInProject(r.project, r.dataset)

	for _, tbl := range tableSpecs {
		schema, err := bigquery.InferSchema(tbl.row)
		if err != nil {
			return fmt.Errorf("EnsureTables: infer schema %s: %w", tbl.name, err)
		}
		meta := &bigquery.TableMetadata{Schema: schema}
		if tbl.name == entriesTable {
			meta.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: "entry_date"}
			meta.Clustering = &bigquery.Clustering{Fields: []string{"user_id"}}
		}

		err = ds.Table(tbl.name).Create(ctx, meta)
		switch {
		case err == nil:
			log.Info().Str("table", tbl.name).Msg("Created table")
		case isAlreadyExists(err):
			log.Debug().Str("table", tbl.name).Msg("Table already exists")
		default:
			return fmt.Errorf("EnsureTables: create %s: %w", tbl.name, err)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
