package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Rhymond/go-money"
	"github.com/alecthomas/kong"
	"github.com/dvloznov/accountbook/internal/app"
	"github.com/dvloznov/accountbook/internal/config"
	"github.com/dvloznov/accountbook/internal/csvimport"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/outbox"
	"github.com/dvloznov/accountbook/internal/watch"
)

// Globals are flags shared by every command.
type Globals struct {
	Config  string        `help:"YAML config file." env:"ACCOUNTBOOK_CONFIG" type:"path"`
	User    string        `help:"Acting user. Defaults to default_user from the config." short:"u"`
	Timeout time.Duration `help:"Overall command timeout." default:"5m"`
}

// Commands lists the CLI subcommands.
type Commands struct {
	Import  ImportCmd  `cmd:"" help:"Import a CSV or XLSX file (local path or gs:// URI) into the ledger."`
	Upload  UploadCmd  `cmd:"" help:"Upload a local file to a gs:// URI for queued imports."`
	Stage   StageCmd   `cmd:"" help:"Stage the rows of a file in the outbox without touching the ledger."`
	Migrate MigrateCmd `cmd:"" help:"Drain staged outbox drafts and budgets into the ledger."`
	Ledger  LedgerCmd  `cmd:"" help:"Print one month of the ledger."`
	Schema  SchemaCmd  `cmd:"" help:"Create the Postgres outbox table and BigQuery ledger tables."`
}

// open loads the config and builds the application for one command.
func (g *Globals) open() (context.Context, context.CancelFunc, *app.App, string, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, nil, "", err
	}

	log := logger.NewWithLevel(cfg.LogLevel)
	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		cancel()
		return nil, nil, nil, "", err
	}

	user := g.User
	if user == "" {
		user = cfg.DefaultUser
	}
	return ctx, cancel, a, user, nil
}

type ImportCmd struct {
	Source   string `arg:"" help:"Local path or gs:// URI."`
	Filename string `help:"Name used to pick the parser. Defaults to the base of the source."`
}

func (cmd *ImportCmd) Run(ctx *kong.Context, globals *Globals) error {
	c, cancel, a, user, err := globals.open()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	res, err := a.ImportSource(c, user, cmd.Source, cmd.Filename)
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Stdout, "Imported %d entries (%d rows dropped, %d unmatched)\n", res.Imported, res.Dropped, res.Unmatched)
	fmt.Fprintf(ctx.Stdout, "Notes attached: %d, failed: %d\n", res.NotesAttached, res.NotesFailed)
	return nil
}

type UploadCmd struct {
	File string `arg:"" help:"Local CSV or XLSX file." type:"existingfile"`
	URI  string `arg:"" help:"Destination, e.g. gs://bucket/imports/october.csv."`
}

func (cmd *UploadCmd) Run(ctx *kong.Context, globals *Globals) error {
	if !watch.IsImportFile(cmd.File) {
		return fmt.Errorf("upload: %s is not a .csv or .xlsx file", cmd.File)
	}

	c, cancel, a, _, err := globals.open()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	if err := a.Upload(c, cmd.File, cmd.URI); err != nil {
		return err
	}
	fmt.Fprintf(ctx.Stdout, "Uploaded %s to %s\n", cmd.File, cmd.URI)
	return nil
}

type StageCmd struct {
	File string `arg:"" help:"Local CSV or XLSX file." type:"existingfile"`
}

func (cmd *StageCmd) Run(ctx *kong.Context, globals *Globals) error {
	parsed, err := parseFile(cmd.File)
	if err != nil {
		return err
	}

	c, cancel, a, user, err := globals.open()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	if a.Config.Outbox.Driver == config.DriverMemory {
		return errors.New("stage: the memory outbox is lost when the command exits; set outbox.driver")
	}

	batch, err := a.Outbox.Stage(c, user, outbox.KindMission, parsed.Drafts)
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Stdout, "Staged %d drafts in batch %s (%d rows dropped)\n", len(parsed.Drafts), batch.ID, parsed.Dropped)
	return nil
}

type MigrateCmd struct {
	Month string `help:"Only migrate drafts dated in this month (YYYY-MM). Others stay staged."`
}

func (cmd *MigrateCmd) Run(ctx *kong.Context, globals *Globals) error {
	scope, err := optionalMonth(cmd.Month)
	if err != nil {
		return err
	}

	c, cancel, a, user, err := globals.open()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	report := a.Session(user).Migrator.Migrate(c, user, scope)
	fmt.Fprintf(ctx.Stdout, "Migrated %d drafts, deferred %d, budget applied: %v\n", report.Migrated, report.Deferred, report.BudgetApplied)
	if len(report.Errors) > 0 {
		return fmt.Errorf("migrate: %s", strings.Join(report.Errors, "; "))
	}
	return nil
}

type LedgerCmd struct {
	Month string `help:"Month to show (YYYY-MM). Defaults to the current month."`
}

func (cmd *LedgerCmd) Run(ctx *kong.Context, globals *Globals) error {
	month := domain.MonthOf(civil.DateOf(time.Now()))
	if cmd.Month != "" {
		m, err := domain.ParseMonth(cmd.Month)
		if err != nil {
			return err
		}
		month = m
	}

	c, cancel, a, user, err := globals.open()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	book := a.Session(user).Book
	if _, err := book.Activate(c, month); err != nil {
		return err
	}
	defer book.Deactivate()

	printLedger(ctx.Stdout, month, book.Entries())
	return nil
}

type SchemaCmd struct{}

func (cmd *SchemaCmd) Run(ctx *kong.Context, globals *Globals) error {
	c, cancel, a, _, err := globals.open()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	var done []string
	if a.Postgres != nil {
		if err := a.Postgres.EnsureSchema(c); err != nil {
			return err
		}
		done = append(done, "postgres outbox")
	}
	if a.BigQuery != nil {
		if err := a.BigQuery.EnsureTables(c); err != nil {
			return err
		}
		done = append(done, "bigquery ledger")
	}
	if len(done) == 0 {
		return errors.New("schema: neither the postgres outbox nor the bigquery backend is configured")
	}

	fmt.Fprintf(ctx.Stdout, "Schema ready: %s\n", strings.Join(done, ", "))
	return nil
}

func parseFile(path string) (csvimport.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return csvimport.Result{}, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return csvimport.ParseXLSX(f)
	}
	return csvimport.ParseReader(f)
}

func optionalMonth(raw string) (*domain.Month, error) {
	if raw == "" {
		return nil, nil
	}
	m, err := domain.ParseMonth(raw)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// formatKRW renders a won amount with grouping, e.g. ₩24,500.
func formatKRW(amount int64) string {
	return money.New(amount, money.KRW).Display()
}

func printLedger(w io.Writer, month domain.Month, entries []domain.LedgerEntry) {
	fmt.Fprintf(w, "%s (%d entries)\n", month, len(entries))

	var total int64
	for _, e := range entries {
		total += e.Amount
		line := fmt.Sprintf("%s  %-8s %12s", e.Date, e.Category, formatKRW(e.Amount))
		if e.Note != "" {
			line += "  " + e.Note
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Total %s\n", formatKRW(total))
}
