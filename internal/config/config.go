package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultConfigFile is read when DUPREAPER_CONFIG_FILE is unset and the file exists.
const DefaultConfigFile = "configs/config.ini"

// Config holds all configuration for dupreaper.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Splunk    SplunkConfig
	Dedup     DedupConfig
	Artifacts ArtifactsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type SplunkConfig struct {
	URL       string
	Token     string
	VerifySSL bool
	Timeout   time.Duration
	// SubmitRPS limits job submissions per second; zero means unlimited.
	SubmitRPS   float64
	SubmitBurst int
	// ConnectRetry bounds how long startup waits for Splunk to accept the token.
	ConnectRetry time.Duration
}

type DedupConfig struct {
	Index            string
	Start            time.Time
	End              time.Time
	Window           time.Duration
	BatchSize        int
	MaxWorkers       int
	TTL              time.Duration
	PollInterval     time.Duration
	MaxCheckFailures int
	EventIDExpr      string
	KeyField         string
}

type ArtifactsConfig struct {
	Enabled      bool
	CSVDir       string
	ProcessedDir string
}

type LogConfig struct {
	File  string
	Level string
}

// Load reads configuration and returns a validated Config.
//
// Values come from, in increasing precedence: built-in defaults, the optional
// config file, a .env file in the working directory, and the process
// environment. overrides run last, before validation.
func Load(overrides ...func(*Config)) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	src, err := newSource(os.Getenv("DUPREAPER_CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: src.int("DUPREAPER_PORT", "server.port", 8080),
			Env:  src.string("DUPREAPER_ENV", "server.env", "development"),
		},
		Database: DatabaseConfig{
			URL:             src.string("DATABASE_URL", "database.url", ""),
			MaxOpenConns:    src.int("DATABASE_MAX_OPEN_CONNS", "database.max_open_conns", 25),
			MaxIdleConns:    src.int("DATABASE_MAX_IDLE_CONNS", "database.max_idle_conns", 5),
			ConnMaxLifetime: src.duration("DATABASE_CONN_MAX_LIFETIME", "database.conn_max_lifetime", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: src.string("REDIS_URL", "redis.url", ""),
		},
		Splunk: SplunkConfig{
			URL:          src.string("SPLUNK_URL", "splunk.url", ""),
			Token:        src.string("SPLUNK_TOKEN", "splunk.jwt_token", ""),
			VerifySSL:    src.bool("SPLUNK_VERIFY_SSL", "splunk.verify_ssl", true),
			Timeout:      src.duration("SPLUNK_TIMEOUT", "splunk.timeout", 60*time.Second),
			SubmitRPS:    src.float("SPLUNK_SUBMIT_RPS", "splunk.submit_rps", 0),
			SubmitBurst:  src.int("SPLUNK_SUBMIT_BURST", "splunk.submit_burst", 1),
			ConnectRetry: src.duration("SPLUNK_CONNECT_RETRY", "splunk.connect_retry", 30*time.Second),
		},
		Dedup: DedupConfig{
			Index:            src.string("DEDUP_INDEX", "search.index", ""),
			Window:           src.duration("DEDUP_WINDOW", "search.window", 10*time.Minute),
			BatchSize:        src.int("DEDUP_BATCH_SIZE", "general.batch_size", 5000),
			MaxWorkers:       src.int("DEDUP_MAX_WORKERS", "general.max_workers", 1),
			TTL:              src.duration("DEDUP_TTL", "general.ttl", 180*time.Second),
			PollInterval:     src.duration("DEDUP_POLL_INTERVAL", "general.poll_interval", 5*time.Second),
			MaxCheckFailures: src.int("DEDUP_MAX_CHECK_FAILURES", "general.max_check_failures", 3),
			EventIDExpr:      src.string("DEDUP_EVENT_ID_EXPR", "search.event_id_expr", ""),
			KeyField:         src.string("DEDUP_KEY_FIELD", "search.key_field", ""),
		},
		Artifacts: ArtifactsConfig{
			Enabled:      src.bool("ARTIFACTS_ENABLED", "general.artifacts", false),
			CSVDir:       src.string("ARTIFACTS_CSV_DIR", "general.csv_dir", "csv_output"),
			ProcessedDir: src.string("ARTIFACTS_PROCESSED_DIR", "general.processed_dir", "processed_csv"),
		},
		Log: LogConfig{
			File:  src.string("LOG_FILE", "general.log_file", ""),
			Level: src.string("LOG_LEVEL", "general.log_level", "info"),
		},
	}

	if cfg.Dedup.Start, err = src.time("DEDUP_START", "search.start_time"); err != nil {
		return nil, err
	}
	if cfg.Dedup.End, err = src.time("DEDUP_END", "search.end_time"); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Splunk.URL == "" {
		return fmt.Errorf("SPLUNK_URL is required")
	}
	if !strings.HasPrefix(c.Splunk.URL, "http://") && !strings.HasPrefix(c.Splunk.URL, "https://") {
		return fmt.Errorf("SPLUNK_URL must start with http:// or https://, got %q", c.Splunk.URL)
	}
	if c.Splunk.Token == "" {
		return fmt.Errorf("SPLUNK_TOKEN is required")
	}
	if c.Splunk.SubmitRPS < 0 {
		return fmt.Errorf("SPLUNK_SUBMIT_RPS must not be negative, got %v", c.Splunk.SubmitRPS)
	}

	if c.Dedup.BatchSize < 1 {
		return fmt.Errorf("DEDUP_BATCH_SIZE must be at least 1, got %d", c.Dedup.BatchSize)
	}
	if c.Dedup.MaxWorkers < 1 {
		return fmt.Errorf("DEDUP_MAX_WORKERS must be at least 1, got %d", c.Dedup.MaxWorkers)
	}
	if c.Dedup.TTL <= 0 {
		return fmt.Errorf("DEDUP_TTL must be positive, got %s", c.Dedup.TTL)
	}
	if c.Dedup.PollInterval <= 0 {
		return fmt.Errorf("DEDUP_POLL_INTERVAL must be positive, got %s", c.Dedup.PollInterval)
	}
	if c.Dedup.MaxCheckFailures < 1 {
		return fmt.Errorf("DEDUP_MAX_CHECK_FAILURES must be at least 1, got %d", c.Dedup.MaxCheckFailures)
	}
	if !c.Dedup.Start.IsZero() && !c.Dedup.End.IsZero() && !c.Dedup.End.After(c.Dedup.Start) {
		return fmt.Errorf("DEDUP_END must be after DEDUP_START")
	}

	return nil
}

// ValidateRange checks that a one-shot run has an index and a time range.
func (c *Config) ValidateRange() error {
	if c.Dedup.Index == "" {
		return fmt.Errorf("DEDUP_INDEX is required")
	}
	if c.Dedup.Start.IsZero() || c.Dedup.End.IsZero() {
		return fmt.Errorf("DEDUP_START and DEDUP_END are required")
	}
	return nil
}

// ValidateServer checks the additional requirements of the HTTP server.
func (c *Config) ValidateServer() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	return nil
}

// ParseTime accepts RFC 3339 timestamps, ISO timestamps without a zone
// (interpreted as UTC) and Unix epoch seconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339, ISO or epoch seconds", s)
}

// source resolves a setting from the environment, then the config file.
type source struct {
	file *viper.Viper
}

func newSource(path string) (source, error) {
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err != nil {
			return source{}, nil
		}
		path = DefaultConfigFile
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return source{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return source{file: v}, nil
}

func (s source) lookup(envKey, fileKey string) (string, bool) {
	if v := os.Getenv(envKey); v != "" {
		return v, true
	}
	if s.file != nil && s.file.IsSet(fileKey) {
		if v := s.file.GetString(fileKey); v != "" {
			return v, true
		}
	}
	return "", false
}

func (s source) string(envKey, fileKey, defaultVal string) string {
	if v, ok := s.lookup(envKey, fileKey); ok {
		return v
	}
	return defaultVal
}

func (s source) int(envKey, fileKey string, defaultVal int) int {
	v, ok := s.lookup(envKey, fileKey)
	if !ok {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (s source) float(envKey, fileKey string, defaultVal float64) float64 {
	v, ok := s.lookup(envKey, fileKey)
	if !ok {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func (s source) bool(envKey, fileKey string, defaultVal bool) bool {
	v, ok := s.lookup(envKey, fileKey)
	if !ok {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// duration accepts Go duration strings or a bare number of seconds.
func (s source) duration(envKey, fileKey string, defaultVal time.Duration) time.Duration {
	v, ok := s.lookup(envKey, fileKey)
	if !ok {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func (s source) time(envKey, fileKey string) (time.Time, error) {
	v, ok := s.lookup(envKey, fileKey)
	if !ok {
		return time.Time{}, nil
	}
	t, err := ParseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", envKey, err)
	}
	return t, nil
}
