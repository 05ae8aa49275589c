// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Stage names select per-binary defaults such as the run log file.
const (
	StageScraper   = "scraper"
	StageProcessor = "processor"
)

// Storage backends understood by the archive factory.
const (
	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// ConfigPathEnv names the environment variable holding an optional config file path.
const ConfigPathEnv = "PRICETRACK_CONFIG"

// DefaultSpreadsheetID is the tracking sheet both stages read and write.
const DefaultSpreadsheetID = "1JinOtgZDuD8s8eM0QL72_7mPx3Jhkog59-nyqXLJdm4"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Stage   string        `mapstructure:"-"`
	Sheet   SheetConfig   `mapstructure:"sheet"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Process ProcessConfig `mapstructure:"process"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	DB      DBConfig      `mapstructure:"db"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Clock   ClockConfig   `mapstructure:"clock"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// SheetConfig locates the tracking spreadsheet and its columns.
type SheetConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
	URLColumn       string `mapstructure:"url_column"`
	PriceColumn     string `mapstructure:"price_column"`
	DateColumn      string `mapstructure:"date_column"`
	HeaderRows      int    `mapstructure:"header_rows"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// FetchConfig governs the retrying fetcher and the scrape worker pool.
type FetchConfig struct {
	MaxAttempts        int    `mapstructure:"max_attempts"`
	TimeoutStepSeconds int    `mapstructure:"timeout_step_seconds"`
	UserAgent          string `mapstructure:"user_agent"`
	Concurrency        int    `mapstructure:"concurrency"`
}

// ProcessConfig throttles the process stage.
type ProcessConfig struct {
	RowDelayMs int `mapstructure:"row_delay_ms"`
}

// StorageConfig selects the archive backend and its content types.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	Bucket         string `mapstructure:"bucket"`
	BaseDir        string `mapstructure:"base_dir"`
	ContentType    string `mapstructure:"content_type"`
	LogContentType string `mapstructure:"log_content_type"`
}

// PubSubConfig holds metadata for the batch completion event.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the observation ledger.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// MetricsConfig controls the Pushgateway export at the end of a run.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// LoggingConfig toggles zap development features and the run log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	ObjectKey   string `mapstructure:"object_key"`
}

// TracingConfig controls where run spans go.
type TracingConfig struct {
	LogSpans bool `mapstructure:"log_spans"`
}

// ClockConfig sets the zone used for run prefixes and sheet dates.
type ClockConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// Load builds a Config for the given stage from disk/environment.
func Load(path string, stage string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, stage)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Stage = stage

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, stage string) {
	v.SetDefault("sheet.spreadsheet_id", DefaultSpreadsheetID)
	v.SetDefault("sheet.sheet_name", "Sheet1")
	v.SetDefault("sheet.url_column", "B")
	v.SetDefault("sheet.price_column", "C")
	v.SetDefault("sheet.date_column", "D")
	v.SetDefault("sheet.header_rows", 1)
	v.SetDefault("fetch.max_attempts", 4)
	v.SetDefault("fetch.timeout_step_seconds", 10)
	v.SetDefault("fetch.user_agent", defaultUserAgent)
	v.SetDefault("fetch.concurrency", 5)
	v.SetDefault("process.row_delay_ms", 600)
	v.SetDefault("storage.backend", BackendGCS)
	v.SetDefault("storage.content_type", "text/html")
	v.SetDefault("storage.log_content_type", "text/plain")
	v.SetDefault("db.table", "price_observations")
	v.SetDefault("metrics.job_name", "price_archive_"+stage)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", stage+".log")
	v.SetDefault("logging.object_key", stage+".log")
	v.SetDefault("clock.timezone", "UTC")
	v.SetDefault("tracing.log_spans", true)
}

// bindLegacyEnv keeps the environment names the deployment already exports.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"sheet.credentials_file": {"PRICETRACK_SHEET_CREDENTIALS_FILE", "SERVICE_ACCOUNT_FILE"},
		"storage.bucket":         {"PRICETRACK_STORAGE_BUCKET", "ARCHIVE_BUCKET"},
		"pubsub.project_id":      {"PRICETRACK_PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.TimeoutStepSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_step_seconds must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Process.RowDelayMs < 0 {
		return fmt.Errorf("process.row_delay_ms must be >= 0")
	}
	if c.Sheet.HeaderRows < 0 {
		return fmt.Errorf("sheet.header_rows must be >= 0")
	}
	if c.Sheet.SpreadsheetID == "" {
		return fmt.Errorf("sheet.spreadsheet_id is required")
	}
	if c.Sheet.CredentialsFile == "" {
		return fmt.Errorf("sheet.credentials_file is required")
	}
	switch c.Storage.Backend {
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if _, err := time.LoadLocation(c.Clock.Timezone); err != nil {
		return fmt.Errorf("clock.timezone: %w", err)
	}
	return nil
}

// AttemptTimeoutStep converts the configured step into a duration.
func (c Config) AttemptTimeoutStep() time.Duration {
	return time.Duration(c.Fetch.TimeoutStepSeconds) * time.Second
}

// RowDelay converts the configured inter-row delay into a duration.
func (c Config) RowDelay() time.Duration {
	return time.Duration(c.Process.RowDelayMs) * time.Millisecond
}

// Location resolves the configured timezone. Validate guarantees it parses.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Clock.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
