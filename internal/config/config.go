// Package config loads the settings shared by the api, worker and cli binaries.
// Values come from defaults, then an optional YAML file, then ACCOUNTBOOK_*
// environment variables (a local .env file may provide those).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/accountbook/internal/outbox"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ACCOUNTBOOK_"

// Ledger backends.
const (
	BackendHTTP     = "http"
	BackendBigQuery = "bigquery"
)

// Outbox drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverGCS      = "gcs"
)

// Config is the root configuration.
type Config struct {
	DefaultUser string       `yaml:"default_user"`
	LogLevel    string       `yaml:"log_level"`
	Ledger      LedgerConfig `yaml:"ledger"`
	Outbox      OutboxConfig `yaml:"outbox"`
	Import      ImportConfig `yaml:"import"`
	API         APIConfig    `yaml:"api"`
	Worker      WorkerConfig `yaml:"worker"`
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Backend         string        `yaml:"backend"`
	BaseURL         string        `yaml:"base_url"`
	Token           string        `yaml:"token"`
	Timeout         time.Duration `yaml:"timeout"`
	BigQueryProject string        `yaml:"bigquery_project"`
	BigQueryDataset string        `yaml:"bigquery_dataset"`
}

// OutboxConfig selects where staged drafts live and how migration failures are handled.
type OutboxConfig struct {
	Driver          string `yaml:"driver"`
	Dir             string `yaml:"dir"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	GCSBucket       string `yaml:"gcs_bucket"`
	GCSPrefix       string `yaml:"gcs_prefix"`
	Capacity        int    `yaml:"capacity"`
	MigrationPolicy string `yaml:"migration_policy"`
	MaxAttempts     int    `yaml:"max_attempts"`
	DailyFlagPath   string `yaml:"daily_flag_path"`
}

// ImportConfig tunes the bulk import and the ledger view.
type ImportConfig struct {
	PageSize        int `yaml:"page_size"`
	MaxPages        int `yaml:"max_pages"`
	NoteConcurrency int `yaml:"note_concurrency"`
	PrefetchLimit   int `yaml:"prefetch_limit"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port string `yaml:"port"`
}

// WorkerConfig configures background processing.
type WorkerConfig struct {
	Workers            int           `yaml:"workers"`
	WatchDir           string        `yaml:"watch_dir"`
	CompactionSchedule string        `yaml:"compaction_schedule"`
	RetainConsumed     time.Duration `yaml:"retain_consumed"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DefaultUser: "default",
		LogLevel:    "info",
		Ledger: LedgerConfig{
			Backend: BackendHTTP,
			Timeout: 15 * time.Second,
		},
		Outbox: OutboxConfig{
			Driver:          DriverMemory,
			Dir:             "data",
			GCSPrefix:       "outbox",
			Capacity:        outbox.DefaultCapacity,
			MigrationPolicy: string(outbox.DeleteOnAttempt),
			MaxAttempts:     3,
		},
		Import: ImportConfig{
			PageSize:        200,
			MaxPages:        20,
			NoteConcurrency: 4,
			PrefetchLimit:   50,
		},
		API: APIConfig{Port: "8080"},
		Worker: WorkerConfig{
			Workers:            2,
			CompactionSchedule: "@daily",
			RetainConsumed:     7 * 24 * time.Hour,
		},
	}
}

// Load reads ./.env if present and then the YAML file at path.
func Load(path string) (*Config, error) {
	return LoadFiles(".env", path)
}

// LoadFiles loads dotenv into the process environment (existing variables win),
// then applies the YAML file and environment overrides on top of Default.
// Empty or missing dotenv and path are skipped.
func LoadFiles(dotenv, path string) (*Config, error) {
	if dotenv != "" {
		if _, err := os.Stat(dotenv); err == nil {
			if err := godotenv.Load(dotenv); err != nil {
				return nil, fmt.Errorf("config.Load: dotenv: %w", err)
			}
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

type override struct {
	key   string
	apply func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func (c *Config) overrides() []override {
	return []override{
		{"DEFAULT_USER", str(&c.DefaultUser)},
		{"LOG_LEVEL", str(&c.LogLevel)},
		{"LEDGER_BACKEND", str(&c.Ledger.Backend)},
		{"LEDGER_BASE_URL", str(&c.Ledger.BaseURL)},
		{"LEDGER_TOKEN", str(&c.Ledger.Token)},
		{"LEDGER_TIMEOUT", duration(&c.Ledger.Timeout)},
		{"BIGQUERY_PROJECT", str(&c.Ledger.BigQueryProject)},
		{"BIGQUERY_DATASET", str(&c.Ledger.BigQueryDataset)},
		{"OUTBOX_DRIVER", str(&c.Outbox.Driver)},
		{"OUTBOX_DIR", str(&c.Outbox.Dir)},
		{"POSTGRES_DSN", str(&c.Outbox.PostgresDSN)},
		{"GCS_BUCKET", str(&c.Outbox.GCSBucket)},
		{"GCS_PREFIX", str(&c.Outbox.GCSPrefix)},
		{"OUTBOX_CAPACITY", integer(&c.Outbox.Capacity)},
		{"MIGRATION_POLICY", str(&c.Outbox.MigrationPolicy)},
		{"MAX_ATTEMPTS", integer(&c.Outbox.MaxAttempts)},
		{"DAILY_FLAG_PATH", str(&c.Outbox.DailyFlagPath)},
		{"PAGE_SIZE", integer(&c.Import.PageSize)},
		{"MAX_PAGES", integer(&c.Import.MaxPages)},
		{"NOTE_CONCURRENCY", integer(&c.Import.NoteConcurrency)},
		{"PREFETCH_LIMIT", integer(&c.Import.PrefetchLimit)},
		{"PORT", str(&c.API.Port)},
		{"WORKERS", integer(&c.Worker.Workers)},
		{"WATCH_DIR", str(&c.Worker.WatchDir)},
		{"COMPACTION_SCHEDULE", str(&c.Worker.CompactionSchedule)},
		{"RETAIN_CONSUMED", duration(&c.Worker.RetainConsumed)},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range c.overrides() {
		v, ok := lookup(EnvPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.apply(v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, o.key, err)
		}
	}
	return nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Ledger.Backend {
	case BackendHTTP:
		if c.Ledger.BaseURL == "" {
			errs = append(errs, errors.New("ledger.base_url is required for the http backend"))
		}
	case BackendBigQuery:
		if c.Ledger.BigQueryProject == "" || c.Ledger.BigQueryDataset == "" {
			errs = append(errs, errors.New("ledger.bigquery_project and ledger.bigquery_dataset are required for the bigquery backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}

	switch c.Outbox.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Outbox.Dir == "" {
			errs = append(errs, errors.New("outbox.dir is required for the file driver"))
		}
	case DriverPostgres:
		if c.Outbox.PostgresDSN == "" {
			errs = append(errs, errors.New("outbox.postgres_dsn is required for the postgres driver"))
		}
	case DriverGCS:
		if c.Outbox.GCSBucket == "" {
			errs = append(errs, errors.New("outbox.gcs_bucket is required for the gcs driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown outbox driver %q", c.Outbox.Driver))
	}

	if _, err := outbox.ParsePolicy(c.Outbox.MigrationPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Outbox.Capacity <= 0 {
		errs = append(errs, errors.New("outbox.capacity must be positive"))
	}
	if c.Import.PageSize <= 0 || c.Import.MaxPages <= 0 {
		errs = append(errs, errors.New("import.page_size and import.max_pages must be positive"))
	}
	if c.DefaultUser == "" {
		errs = append(errs, errors.New("default_user is required"))
	}

	return errors.Join(errs...)
}

// OutboxOptions converts the outbox section. Call after Validate.
func (c *Config) OutboxOptions() outbox.Options {
	policy, _ := outbox.ParsePolicy(c.Outbox.MigrationPolicy)
	return outbox.Options{
		Capacity:    c.Outbox.Capacity,
		Policy:      policy,
		MaxAttempts: c.Outbox.MaxAttempts,
	}.WithDefaults()
}
