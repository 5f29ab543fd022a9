// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the Web Connector endpoint and the
// synchronization store. It is loaded once at startup and passed into
// constructors; nothing reads the environment after that.
type Config struct {
	// QuickBooks Web Connector credentials. Must match the user configured
	// in the connector's .qwc profile.
	QBUsername string
	QBPassword string

	// TaxItemName is the QuickBooks item used for the trailing tax line on
	// sales receipts. Empty means QuickBooks adds tax itself and no tax
	// line is emitted.
	TaxItemName string

	// ServerVersion is returned verbatim for the serverVersion verb.
	ServerVersion string

	DBPath     string // path to the SQLite file
	ListenAddr string // HTTP listen address (default ":8080")
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	// NotifyWebhookURL receives a POST for every synchronization failure.
	// Empty disables webhook delivery (failures are still logged).
	NotifyWebhookURL string

	// ItemNameMapPath points at an optional YAML file mapping site item
	// names to QuickBooks item names, used when no per-line mapping row
	// exists. Loaded into ItemNameMap at startup.
	ItemNameMapPath string
	ItemNameMap     map[string]string

	// Rate limiting for the protocol endpoint.
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// Stale-ticket reaper. Empty schedule disables it.
	ReaperSchedule string        // cron expression, e.g. "@hourly"
	ReaperMaxAge   time.Duration // non-terminal tickets older than this are failed (default 24h)
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.QBUsername == "" || c.QBPassword == "" {
		return fmt.Errorf("QB_USERNAME and QB_PASSWORD must be set")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must be set")
	}
	if c.ReaperSchedule != "" && c.ReaperMaxAge <= 0 {
		return fmt.Errorf("REAPER_MAX_AGE must be positive when REAPER_SCHEDULE is set")
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults for everything optional.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		QBUsername:       os.Getenv("QB_USERNAME"),
		QBPassword:       os.Getenv("QB_PASSWORD"),
		TaxItemName:      os.Getenv("QB_TAX_ITEM_NAME"),
		ServerVersion:    os.Getenv("QB_SERVER_VERSION"),
		DBPath:           os.Getenv("DB_PATH"),
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Env:              os.Getenv("ENV"),
		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		ItemNameMapPath:  os.Getenv("ITEM_NAME_MAP_PATH"),
		ReaperSchedule:   os.Getenv("REAPER_SCHEDULE"),
		RateLimitRPS:     100,
		RateLimitBurst:   200,
		ReaperMaxAge:     24 * time.Hour,
	}

	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "1.0"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "qb_sync.sqlite"
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPS %q: %w", v, err)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_BURST %q: %w", v, err)
		}
		cfg.RateLimitBurst = n
	}
	if v := os.Getenv("REAPER_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REAPER_MAX_AGE %q: %w", v, err)
		}
		cfg.ReaperMaxAge = d
	}

	if cfg.ItemNameMapPath != "" {
		m, err := LoadItemNameMap(cfg.ItemNameMapPath)
		if err != nil {
			return nil, err
		}
		cfg.ItemNameMap = m
	}

	return cfg, nil
}

// LoadItemNameMap reads a YAML file of site item name → QuickBooks item name.
func LoadItemNameMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return nil, fmt.Errorf("read item name map %s: %w", path, err)
	}
	m := map[string]string{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse item name map %s: %w", path, err)
	}
	return m, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be in KEY=VALUE format. Comments (#) and blank
// lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
