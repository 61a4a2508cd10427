// Package app wires the ledger backend, outbox, event bus and per-user
// account books from a config.Config. The api, worker and cli binaries share it.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/accountbook/internal/accountbook"
	"github.com/dvloznov/accountbook/internal/bridge"
	"github.com/dvloznov/accountbook/internal/config"
	"github.com/dvloznov/accountbook/internal/dailyflag"
	"github.com/dvloznov/accountbook/internal/events"
	"github.com/dvloznov/accountbook/internal/gcs"
	infraBQ "github.com/dvloznov/accountbook/internal/infra/bigquery"
	"github.com/dvloznov/accountbook/internal/importer"
	"github.com/dvloznov/accountbook/internal/jobs"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/ledger"
	"github.com/dvloznov/accountbook/internal/missions"
	"github.com/dvloznov/accountbook/internal/notes"
	"github.com/dvloznov/accountbook/internal/outbox"
	"github.com/dvloznov/accountbook/internal/outbox/file"
	"github.com/dvloznov/accountbook/internal/outbox/gcsstore"
	"github.com/dvloznov/accountbook/internal/outbox/inmemory"
	"github.com/dvloznov/accountbook/internal/outbox/pgstore"
	"github.com/rs/zerolog"
)

// ErrNoStorage is returned for gs:// sources when no GCS client could be created.
var ErrNoStorage = errors.New("gcs storage is not configured")

// Session is the per-user object graph.
type Session struct {
	UserID   string
	Ledger   ledger.Client
	Notes    *notes.Cache
	Importer *importer.Orchestrator
	Migrator *bridge.Migrator
	Book     *accountbook.Book
}

// App owns the shared collaborators and creates sessions on demand.
type App struct {
	Config   *config.Config
	Bus      *events.Bus
	Outbox   outbox.Store
	Flags    dailyflag.Store
	Points   ledger.PointsClient
	Missions *missions.Service

	// Postgres and BigQuery are set for the matching backends.
	Postgres *pgstore.Store
	BigQuery *infraBQ.Repository

	log       zerolog.Logger
	ledgerFor func(userID string) ledger.Client
	storage   gcs.StorageService
	closers   []func() error

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds the application from cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Bus:      events.NewBus(),
		log:      log,
		sessions: make(map[string]*Session),
	}

	if err := a.openLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openOutbox(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openFlags(); err != nil {
		a.Close()
		return nil, err
	}

	a.Missions = missions.NewService(a.Points, a.Bus, a.Outbox, a.Flags)
	return a, nil
}

// NewWithParts assembles an App from already constructed collaborators.
func NewWithParts(cfg *config.Config, log zerolog.Logger, ledgerFor func(string) ledger.Client, points ledger.PointsClient, store outbox.Store, flags dailyflag.Store) *App {
	a := &App{
		Config:    cfg,
		Bus:       events.NewBus(),
		Outbox:    store,
		Flags:     flags,
		Points:    points,
		log:       log,
		ledgerFor: ledgerFor,
		sessions:  make(map[string]*Session),
	}
	a.Missions = missions.NewService(points, a.Bus, store, flags)
	return a
}

func (a *App) openLedger(ctx context.Context) error {
	switch a.Config.Ledger.Backend {
	case config.BackendBigQuery:
		repo, err := infraBQ.NewRepository(ctx, a.Config.Ledger.BigQueryProject, a.Config.Ledger.BigQueryDataset)
		if err != nil {
			return fmt.Errorf("app.New: %w", err)
		}
		a.BigQuery = repo
		a.closers = append(a.closers, repo.Close)
		a.Points = repo
		a.ledgerFor = func(userID string) ledger.Client { return repo.ForUser(userID) }
	default:
		client := ledger.NewHTTPClient(a.Config.Ledger.BaseURL, a.Config.Ledger.Token, a.Config.Ledger.Timeout)
		a.Points = client
		a.ledgerFor = func(userID string) ledger.Client { return client.ForUser(userID) }
	}
	return nil
}

func (a *App) openOutbox(ctx context.Context) error {
	opts := a.Config.OutboxOptions()

	switch a.Config.Outbox.Driver {
	case config.DriverFile:
		store, err := file.NewStore(a.Config.Outbox.Dir, a.Config.DefaultUser, opts)
		if err != nil {
			return fmt.Errorf("app.New: outbox: %w", err)
		}
		a.Outbox = store
	case config.DriverPostgres:
		pool, err := pgstore.Connect(ctx, a.Config.Outbox.PostgresDSN)
		if err != nil {
			return fmt.Errorf("app.New: outbox: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		store := pgstore.New(pool, opts)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("app.New: outbox: %w", err)
		}
		a.Postgres = store
		a.Outbox = store
	case config.DriverGCS:
		client, err := a.gcsClient(ctx)
		if err != nil {
			return fmt.Errorf("app.New: outbox: %w", err)
		}
		a.Outbox = gcsstore.New(client.Storage(), a.Config.Outbox.GCSBucket, a.Config.Outbox.GCSPrefix, opts)
	default:
		a.Outbox = inmemory.NewStore(opts)
	}
	return nil
}

func (a *App) openFlags() error {
	if a.Config.Outbox.DailyFlagPath == "" {
		a.Flags = dailyflag.NewMemoryStore()
		return nil
	}
	flags, err := dailyflag.NewFileStore(a.Config.Outbox.DailyFlagPath)
	if err != nil {
		return fmt.Errorf("app.New: daily flags: %w", err)
	}
	a.Flags = flags
	return nil
}

func (a *App) gcsClient(ctx context.Context) (*gcs.Client, error) {
	if c, ok := a.storage.(*gcs.Client); ok {
		return c, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	a.storage = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// SetStorage overrides the object store used for gs:// sources.
func (a *App) SetStorage(s gcs.StorageService) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.storage = s
}

// Session returns the user's session, creating it on first use.
func (a *App) Session(userID string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.sessions[userID]; ok {
		return s
	}

	client := a.ledgerFor(userID)
	cache := notes.New(client)
	imp := importer.New(client, a.Bus, importer.Options{
		UserID:          userID,
		PageSize:        a.Config.Import.PageSize,
		MaxPages:        a.Config.Import.MaxPages,
		NoteConcurrency: a.Config.Import.NoteConcurrency,
		Notes:           cache,
	})
	migrator := bridge.NewMigrator(a.Outbox, imp, client)
	book := accountbook.New(userID, accountbook.Deps{
		Client:   client,
		Importer: imp,
		Migrator: migrator,
		Outbox:   a.Outbox,
		Bus:      a.Bus,
		Notes:    cache,
	}, accountbook.Options{
		PageSize:        a.Config.Import.PageSize,
		MaxPages:        a.Config.Import.MaxPages,
		PrefetchLimit:   a.Config.Import.PrefetchLimit,
		NoteConcurrency: a.Config.Import.NoteConcurrency,
	})

	s := &Session{
		UserID:   userID,
		Ledger:   client,
		Notes:    cache,
		Importer: imp,
		Migrator: migrator,
		Book:     book,
	}
	a.sessions[userID] = s
	a.log.Debug().Str("user_id", userID).Msg("Created session")
	return s
}

// Open returns a reader for a gs:// URI or a local path.
func (a *App) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "gs://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		return f, nil
	}

	storage, err := a.objectStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Open: %w", err)
	}

	data, err := storage.Fetch(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("app.Open: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Upload copies a local file to a gs:// URI so it can be queued as an import job.
func (a *App) Upload(ctx context.Context, localPath, uri string) error {
	bucket, object, err := gcs.ParseURI(uri)
	if err != nil {
		return fmt.Errorf("app.Upload: %w", err)
	}
	storage, err := a.objectStore(ctx)
	if err != nil {
		return fmt.Errorf("app.Upload: %w", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("app.Upload: %w", err)
	}
	defer f.Close()

	if err := storage.Upload(ctx, bucket, object, f); err != nil {
		return fmt.Errorf("app.Upload: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("uri", uri).Msg("Uploaded import file")
	return nil
}

// objectStore returns the configured object store, creating a GCS client on first use.
func (a *App) objectStore(ctx context.Context) (gcs.StorageService, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.storage == nil {
		if _, err := a.gcsClient(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoStorage, err)
		}
	}
	return a.storage, nil
}

// ImportSource imports one CSV or XLSX file into the user's ledger.
// filename picks the parser and defaults to the base name of source.
func (a *App) ImportSource(ctx context.Context, userID, source, filename string) (importer.Result, error) {
	if filename == "" {
		if strings.HasPrefix(source, "gs://") {
			filename = gcs.Filename(source)
		} else {
			filename = filepath.Base(source)
		}
	}

	r, err := a.Open(ctx, source)
	if err != nil {
		return importer.Result{}, err
	}
	defer r.Close()

	return a.Session(userID).Importer.ImportFile(ctx, filename, r)
}

// HandleJob runs a queued import job and records its result on the job.
func (a *App) HandleJob(ctx context.Context, job jobs.Job) error {
	importJob, ok := job.(*jobs.ImportJob)
	if !ok {
		return fmt.Errorf("app.HandleJob: unexpected job type: %T", job)
	}

	log := a.log.With().Str("job_id", importJob.JobID).Str("user_id", importJob.UserID).Logger()
	log.Info().Str("source", importJob.Source).Msg("Processing import job")

	res, err := a.ImportSource(ctx, importJob.UserID, importJob.Source, importJob.Filename)
	if err != nil {
		return fmt.Errorf("app.HandleJob: %w", err)
	}
	importJob.Result = &res

	log.Info().
		Int("imported", res.Imported).
		Int("notes_failed", res.NotesFailed).
		Msg("Import job completed")
	return nil
}

// Compact purges consumed outbox batches older than the retention window.
func (a *App) Compact(ctx context.Context, now time.Time) (int, error) {
	n, err := a.Outbox.Purge(ctx, now.Add(-a.Config.Worker.RetainConsumed))
	if err != nil {
		return 0, fmt.Errorf("app.Compact: %w", err)
	}
	return n, nil
}

// Close releases every client opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
