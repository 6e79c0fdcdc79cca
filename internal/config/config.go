// Package config provides harness configuration loaded from an optional
// dotenv file and environment variables.
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
)

// ResetMode selects how the database is re-seeded before a run.
type ResetMode string

const (
	ResetExec     ResetMode = "exec"
	ResetEmbedded ResetMode = "embedded"
)

// DefaultEnvFile is read when present; its values never override the process
// environment.
const DefaultEnvFile = "test-new/.env"

// Config holds all harness configuration.
type Config struct {
	BaseURL   string
	CorpusDir string
	Backend   string

	Strict   bool
	LogDebug bool
	LogLevel string

	ResetDB      bool
	ResetMode    ResetMode
	SQLiteBinary string
	SQLiteDB     string
	SQLFixture   string

	CookieTransport bool
	PairDelay       time.Duration
	RequestTimeout  time.Duration
	ExclusionsFile  string
	OTelEnabled     bool

	ListenAddr   string
	CORSOrigins  []string
	OIDCIssuer   string
	OIDCAudience string
}

// Load reads envFile (skipped when empty or missing) and then the
// environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	return LoadFromEnv()
}

// LoadFromEnv reads configuration from environment variables with defaults.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:        envOr("TEST_BASE_URL", "http://localhost:8081/api.php"),
		CorpusDir:      envOr("PARITY_CORPUS_DIR", "test-new/php-crud-tests/functional"),
		Backend:        envOr("PARITY_BACKEND", "sqlite"),
		LogLevel:       envOr("PARITY_LOG_LEVEL", "info"),
		ResetMode:      ResetMode(envOr("PARITY_RESET_MODE", string(ResetExec))),
		SQLiteBinary:   envOr("SQLITE3_BINARY", "sqlite3"),
		SQLiteDB:       envOr("SQLITE_DB", "test-new/var/php-crud-api.sqlite"),
		SQLFixture:     envOr("SQLITE_FIXTURE", "test-new/php-crud-tests/fixtures/blog_sqlite.sql"),
		ExclusionsFile: os.Getenv("PARITY_EXCLUSIONS"),
		ListenAddr:     envOr("PARITY_LISTEN_ADDR", ":8090"),
		CORSOrigins:    envList("PARITY_CORS_ORIGINS", "*"),
		OIDCIssuer:     os.Getenv("PARITY_OIDC_ISSUER"),
		OIDCAudience:   os.Getenv("PARITY_OIDC_AUDIENCE"),
	}

	var err error
	flags := []struct {
		key      string
		fallback bool
		dst      *bool
	}{
		{"JCA_TEST_STRICT", false, &cfg.Strict},
		{"JCA_TEST_LOG", false, &cfg.LogDebug},
		{"RESET_DB", true, &cfg.ResetDB},
		{"PARITY_COOKIE_TRANSPORT", false, &cfg.CookieTransport},
		{"PARITY_OTEL_ENABLED", false, &cfg.OTelEnabled},
	}
	for _, f := range flags {
		if *f.dst, err = envBool(f.key, f.fallback); err != nil {
			return Config{}, err
		}
	}

	if cfg.PairDelay, err = envDuration("PARITY_PAIR_DELAY", 100*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = envDuration("PARITY_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout <= 0 {
		return Config{}, fmt.Errorf("config: PARITY_REQUEST_TIMEOUT must be positive")
	}

	if cfg.ResetMode != ResetExec && cfg.ResetMode != ResetEmbedded {
		return Config{}, fmt.Errorf("config: invalid PARITY_RESET_MODE %q (must be exec or embedded)", cfg.ResetMode)
	}
	if cfg.LogDebug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// OIDCEnabled reports whether the control API requires bearer tokens.
func (c Config) OIDCEnabled() bool {
	return c.OIDCIssuer != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envList splits a comma-separated value, dropping blanks.
func envList(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(envOr(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: invalid %s %q (must be 0 or 1)", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
