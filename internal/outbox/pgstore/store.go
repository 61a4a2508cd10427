// Package pgstore is a Postgres outbox backend. Claims are a single
// UPDATE ... RETURNING, so concurrent processes never claim the same batch.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the outbox table.
const Schema = `
CREATE TABLE IF NOT EXISTS outbox_batches (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	drafts      JSONB NOT NULL DEFAULT '[]',
	budget      JSONB,
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	last_error  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS outbox_batches_pending_idx
	ON outbox_batches (user_id, kind, status, id);
`

const batchColumns = `id, user_id, kind, drafts, budget, status, attempts, created_at, updated_at, last_error`

// DB is the subset of *pgxpool.Pool the store needs. This interface enables mocking.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Store implements outbox.Store on Postgres.
type Store struct {
	db   DB
	opts outbox.Options
	now  func() time.Time
}

// New creates a store using db.
func New(db DB, opts outbox.Options) *Store {
	return &Store{db: db, opts: opts.WithDefaults(), now: time.Now}
}

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("Connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Connect: ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the outbox table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

// Stage implements outbox.Store.
func (s *Store) Stage(ctx context.Context, userID string, kind outbox.Kind, drafts []domain.Draft) (*outbox.Batch, error) {
	var staged *outbox.Batch
	err := s.withPendingLocked(ctx, userID, kind, func(tx pgx.Tx, b *outbox.Batch) error {
		now := s.now()
		if b == nil {
			var err error
			if b, err = outbox.NewBatch(userID, kind, now); err != nil {
				return err
			}
			if err := outbox.Append(b, drafts, s.opts.Capacity, now); err != nil {
				return err
			}
			staged = b
			return insert(ctx, tx, b)
		}
		if err := outbox.Append(b, drafts, s.opts.Capacity, now); err != nil {
			return err
		}
		staged = b
		return save(ctx, tx, b)
	})
	if err != nil {
		return nil, fmt.Errorf("Stage: %w", err)
	}
	return staged, nil
}

// StageBudget implements outbox.Store.
func (s *Store) StageBudget(ctx context.Context, userID string, budget domain.Budget) (*outbox.Batch, error) {
	var staged *outbox.Batch
	err := s.withPendingLocked(ctx, userID, outbox.KindBudget, func(tx pgx.Tx, b *outbox.Batch) error {
		now := s.now()
		if b == nil {
			var err error
			if b, err = outbox.NewBatch(userID, outbox.KindBudget, now); err != nil {
				return err
			}
			b.Budget = &budget
			staged = b
			return insert(ctx, tx, b)
		}
		b.Budget = &budget
		b.UpdatedAt = now
		staged = b
		return save(ctx, tx, b)
	})
	if err != nil {
		return nil, fmt.Errorf("StageBudget: %w", err)
	}
	return staged, nil
}

// Claim implements outbox.Store.
func (s *Store) Claim(ctx context.Context, userID string, kind outbox.Kind) (*outbox.Batch, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE outbox_batches
		SET status = $3, attempts = attempts + 1, updated_at = $5
		WHERE id = (
			SELECT id FROM outbox_batches
			WHERE user_id = $1 AND kind = $2 AND status = $4
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+batchColumns,
		userID, string(kind), string(outbox.StatusMigrating), string(outbox.StatusPending), s.now())

	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Claim: %w", err)
	}
	return b, nil
}

// Complete implements outbox.Store.
func (s *Store) Complete(ctx context.Context, batch *outbox.Batch, runErr error) error {
	var dropped *outbox.Batch
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		dropped = nil
		b, err := scanBatch(tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM outbox_batches WHERE id = $1 FOR UPDATE`, batch.ID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", outbox.ErrBatchNotFound, batch.ID)
		}
		if err != nil {
			return err
		}
		if outbox.Settle(b, batch, runErr, s.opts, s.now()) {
			dropped = b
		}
		return save(ctx, tx, b)
	})
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	if dropped != nil {
		outbox.LogDropped(ctx, dropped)
	}
	return nil
}

// Purge implements outbox.Store.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM outbox_batches WHERE status = $1 AND updated_at < $2`,
		string(outbox.StatusConsumed), olderThan)
	if err != nil {
		return 0, fmt.Errorf("Purge: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// withPendingLocked serializes staging per (user, kind) with a transaction
// scoped advisory lock and hands fn the oldest pending batch, if any.
func (s *Store) withPendingLocked(ctx context.Context, userID string, kind outbox.Kind, fn func(tx pgx.Tx, b *outbox.Batch) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID+"|"+string(kind)); err != nil {
			return fmt.Errorf("locking outbox: %w", err)
		}

		b, err := scanBatch(tx.QueryRow(ctx, `
			SELECT `+batchColumns+` FROM outbox_batches
			WHERE user_id = $1 AND kind = $2 AND status = $3
			ORDER BY id
			LIMIT 1
			FOR UPDATE`,
			userID, string(kind), string(outbox.StatusPending)))
		if errors.Is(err, pgx.ErrNoRows) {
			b = nil
		} else if err != nil {
			return fmt.Errorf("loading pending batch: %w", err)
		}
		return fn(tx, b)
	})
}

func insert(ctx context.Context, tx pgx.Tx, b *outbox.Batch) error {
	drafts, budget, err := encode(b)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.UserID, string(b.Kind), drafts, budget, string(b.Status), b.Attempts, b.CreatedAt, b.UpdatedAt, b.LastError)
	if err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}
	return nil
}

func save(ctx context.Context, tx pgx.Tx, b *outbox.Batch) error {
	drafts, budget, err := encode(b)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE outbox_batches
		SET drafts = $2, budget = $3, status = $4, attempts = $5, updated_at = $6, last_error = $7
		WHERE id = $1`,
		b.ID, drafts, budget, string(b.Status), b.Attempts, b.UpdatedAt, b.LastError)
	if err != nil {
		return fmt.Errorf("updating batch: %w", err)
	}
	return nil
}

func encode(b *outbox.Batch) ([]byte, []byte, error) {
	drafts := b.Drafts
	if drafts == nil {
		drafts = []domain.Draft{}
	}
	draftsJSON, err := json.Marshal(drafts)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding drafts: %w", err)
	}
	var budgetJSON []byte
	if b.Budget != nil {
		if budgetJSON, err = json.Marshal(b.Budget); err != nil {
			return nil, nil, fmt.Errorf("encoding budget: %w", err)
		}
	}
	return draftsJSON, budgetJSON, nil
}

func scanBatch(row pgx.Row) (*outbox.Batch, error) {
	var (
		b                  outbox.Batch
		kind, status       string
		drafts, budgetJSON []byte
	)
	if err := row.Scan(&b.ID, &b.UserID, &kind, &drafts, &budgetJSON, &status, &b.Attempts, &b.CreatedAt, &b.UpdatedAt, &b.LastError); err != nil {
		return nil, err
	}
	b.Kind = outbox.Kind(kind)
	b.Status = outbox.Status(status)

	if len(drafts) > 0 {
		if err := json.Unmarshal(drafts, &b.Drafts); err != nil {
			return nil, fmt.Errorf("decoding drafts: %w", err)
		}
		if len(b.Drafts) == 0 {
			b.Drafts = nil
		}
	}
	if len(budgetJSON) > 0 {
		var budget domain.Budget
		if err := json.Unmarshal(budgetJSON, &budget); err != nil {
			return nil, fmt.Errorf("decoding budget: %w", err)
		}
		b.Budget = &budget
	}
	return &b, nil
}

// Ensure Store implements outbox.Store.
var _ outbox.Store = (*Store)(nil)
