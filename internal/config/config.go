// Package config loads and validates recovery configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RECOVERY_WORKER_INDEX.
const EnvPrefix = "RECOVERY"

// ErrMissingCredentials is returned by ValidateLogin when no login is configured.
var ErrMissingCredentials = errors.New("credentials.username and credentials.password are required")

// Metadata sources.
const (
	MetadataNone     = "none"
	MetadataHTTP     = "http"
	MetadataPostgres = "postgres"
)

// Config captures all recovery knobs loaded via Viper.
type Config struct {
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Target      TargetConfig      `mapstructure:"target"`
	Inventory   InventoryConfig   `mapstructure:"inventory"`
	Output      OutputConfig      `mapstructure:"output"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Session     SessionConfig     `mapstructure:"session"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Pacing      PacingConfig      `mapstructure:"pacing"`
	Extract     ExtractConfig     `mapstructure:"extract"`
	Metadata    MetadataConfig    `mapstructure:"metadata"`
	DB          DBConfig          `mapstructure:"db"`
	Lease       LeaseConfig       `mapstructure:"lease"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CredentialsConfig holds the login of the target application.
type CredentialsConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// WorkerConfig identifies this worker within the fleet (1-based index).
type WorkerConfig struct {
	Index int `mapstructure:"index"`
	Total int `mapstructure:"total"`
	// Parallel caps how many workers run at once with --all-workers; 0 runs
	// the whole fleet concurrently.
	Parallel int `mapstructure:"parallel"`
}

// TargetConfig describes the target application.
type TargetConfig struct {
	LoginURL string `mapstructure:"login_url"`
	// ThreadURL contains the {id} placeholder.
	ThreadURL        string   `mapstructure:"thread_url"`
	UsernameSelector string   `mapstructure:"username_selector"`
	PasswordSelector string   `mapstructure:"password_selector"`
	SubmitSelector   string   `mapstructure:"submit_selector"`
	LoginMarkers     []string `mapstructure:"login_markers"`
}

// InventoryConfig locates the work universe.
type InventoryConfig struct {
	Dir           string `mapstructure:"dir"`
	Pattern       string `mapstructure:"pattern"`
	Recursive     bool   `mapstructure:"recursive"`
	CanonicalUUID bool   `mapstructure:"canonical_uuid"`
}

// OutputConfig locates journals and checkpoints.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
	// Checkpoint is the global checkpoint; relative paths resolve against Dir.
	Checkpoint string `mapstructure:"checkpoint"`
	FlushEvery int    `mapstructure:"flush_every"`
}

// BrowserConfig configures the embedded Chrome.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExecPath          string        `mapstructure:"exec_path"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	Settle            time.Duration `mapstructure:"settle"`
}

// SessionConfig controls proactive rotation.
type SessionConfig struct {
	RotationThreshold int `mapstructure:"rotation_threshold"`
}

// RetryConfig holds the per-item retry caps.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	MaxLoginAttempts int `mapstructure:"max_login_attempts"`
	MaxCrashRetries  int `mapstructure:"max_crash_retries"`
}

// PacingConfig throttles the worker.
type PacingConfig struct {
	Delay time.Duration `mapstructure:"delay"`
	RPS   float64       `mapstructure:"rps"`
	Burst int           `mapstructure:"burst"`
}

// ExtractConfig tunes the chunk heuristic.
type ExtractConfig struct {
	Delimiter         string `mapstructure:"delimiter"`
	MinChunkLength    int    `mapstructure:"min_chunk_length"`
	MaxMessages       int    `mapstructure:"max_messages"`
	FingerprintLength int    `mapstructure:"fingerprint_length"`
	SpeakerPattern    string `mapstructure:"speaker_pattern"`
}

// MetadataConfig selects the auxiliary metadata source.
type MetadataConfig struct {
	Source  string        `mapstructure:"source"`
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DBConfig controls access to Postgres for metadata and the run ledger.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	MetadataTable string `mapstructure:"metadata_table"`
	RunsTable     string `mapstructure:"runs_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// LeaseConfig enables the Redis claim step.
type LeaseConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisURL  string        `mapstructure:"redis_url"`
	Password  string        `mapstructure:"password"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig selects where run artifacts are copied at shutdown.
type ArchiveConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ServerConfig controls the optional status endpoint.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads and validates the configuration.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.ValidateLogin(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read builds a Config from an optional file, a .env file and the
// environment without validating it.
func Read(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	return cfg, nil
}

// loadDotEnv reads ./.env when present. Variables already set win.
func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default so AutomaticEnv can override it on Unmarshal.
	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")
	v.SetDefault("worker.index", 1)
	v.SetDefault("worker.total", 1)
	v.SetDefault("worker.parallel", 0)
	v.SetDefault("target.login_url", "")
	v.SetDefault("target.thread_url", "")
	v.SetDefault("target.username_selector", `input[name="username"]`)
	v.SetDefault("target.password_selector", `input[type="password"]`)
	v.SetDefault("target.submit_selector", `button[type="submit"]`)
	v.SetDefault("target.login_markers", []string{"/login", "/signin", "/sign_in", "/auth"})
	v.SetDefault("inventory.dir", "inventory")
	v.SetDefault("inventory.pattern", "")
	v.SetDefault("inventory.recursive", false)
	v.SetDefault("inventory.canonical_uuid", true)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.checkpoint", "checkpoint.json")
	v.SetDefault("output.flush_every", 10)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.settle", "500ms")
	v.SetDefault("session.rotation_threshold", 50)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.max_login_attempts", 2)
	v.SetDefault("retry.max_crash_retries", 1)
	v.SetDefault("pacing.delay", "2s")
	v.SetDefault("pacing.rps", 1.0)
	v.SetDefault("pacing.burst", 2)
	v.SetDefault("extract.delimiter", "\n\n")
	v.SetDefault("extract.min_chunk_length", 20)
	v.SetDefault("extract.max_messages", 200)
	v.SetDefault("extract.fingerprint_length", 100)
	v.SetDefault("extract.speaker_pattern", "")
	v.SetDefault("metadata.source", MetadataNone)
	v.SetDefault("metadata.url", "")
	v.SetDefault("metadata.token", "")
	v.SetDefault("metadata.timeout", "10s")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.metadata_table", "threads")
	v.SetDefault("db.runs_table", "recovery_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("lease.enabled", false)
	v.SetDefault("lease.redis_url", "redis://localhost:6379/0")
	v.SetDefault("lease.password", "")
	v.SetDefault("lease.key_prefix", "thread-recovery")
	v.SetDefault("lease.ttl", "24h")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "runs")
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. The login is
// checked separately by ValidateLogin since only browser runs need it.
func (c Config) Validate() error {
	if c.Worker.Total < 1 {
		return fmt.Errorf("worker.total must be >= 1")
	}
	if c.Worker.Index < 1 || c.Worker.Index > c.Worker.Total {
		return fmt.Errorf("worker.index must be in [1, %d]", c.Worker.Total)
	}
	if c.Worker.Parallel < 0 {
		return fmt.Errorf("worker.parallel must be >= 0")
	}
	if !strings.Contains(c.Target.ThreadURL, "{id}") {
		return fmt.Errorf("target.thread_url must contain the {id} placeholder")
	}
	if err := absoluteURL("target.thread_url", strings.ReplaceAll(c.Target.ThreadURL, "{id}", "x")); err != nil {
		return err
	}
	if strings.TrimSpace(c.Inventory.Dir) == "" {
		return fmt.Errorf("inventory.dir must be set")
	}
	if c.Inventory.Pattern != "" {
		if _, err := regexp.Compile(c.Inventory.Pattern); err != nil {
			return fmt.Errorf("inventory.pattern: %w", err)
		}
	}
	if c.Extract.SpeakerPattern != "" {
		if _, err := regexp.Compile(c.Extract.SpeakerPattern); err != nil {
			return fmt.Errorf("extract.speaker_pattern: %w", err)
		}
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Output.FlushEvery <= 0 {
		return fmt.Errorf("output.flush_every must be > 0")
	}
	if c.Session.RotationThreshold <= 0 {
		return fmt.Errorf("session.rotation_threshold must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 || c.Retry.MaxLoginAttempts <= 0 || c.Retry.MaxCrashRetries < 0 {
		return fmt.Errorf("retry caps must be positive")
	}
	if c.Pacing.Delay < 0 {
		return fmt.Errorf("pacing.delay must be >= 0")
	}
	switch c.Metadata.Source {
	case MetadataNone, "":
	case MetadataHTTP:
		if err := absoluteURL("metadata.url", c.Metadata.URL); err != nil {
			return err
		}
	case MetadataPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when metadata.source is postgres")
		}
	default:
		return fmt.Errorf("metadata.source must be one of none, http, postgres")
	}
	if c.Lease.Enabled && c.Lease.RedisURL == "" {
		return fmt.Errorf("lease.redis_url must be set when lease is enabled")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Archive.Dir != "" && c.Archive.GCSBucket != "" {
		return fmt.Errorf("archive.dir and archive.gcs_bucket are mutually exclusive")
	}
	return nil
}

// ValidateLogin checks what an authenticated browser session needs. Missing
// credentials are reported with ErrMissingCredentials.
func (c Config) ValidateLogin() error {
	if c.Credentials.Username == "" || c.Credentials.Password == "" {
		return ErrMissingCredentials
	}
	return absoluteURL("target.login_url", c.Target.LoginURL)
}

// CheckpointPath resolves the global checkpoint location.
func (c Config) CheckpointPath() string {
	if filepath.IsAbs(c.Output.Checkpoint) {
		return c.Output.Checkpoint
	}
	return filepath.Join(c.Output.Dir, c.Output.Checkpoint)
}

func absoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", key)
	}
	return nil
}
