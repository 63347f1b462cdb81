package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stepChallengeAPI/internal/types/entry"
)

const devSessionSecret = "step-challenge-dev-secret"

type Config struct {
	Env         string
	Port        string
	DatabaseURL string

	SessionSecret string
	SessionTTL    time.Duration

	RedisURL            string
	LeaderboardCacheTTL time.Duration

	EntryMode entry.Mode

	LiveRefreshInterval time.Duration

	MetricsUser string
	MetricsPass string
	PprofSecret string

	RateLimitRPS   float64
	RateLimitBurst int
	TrustedProxies []string

	MigrationsDir string
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Env:            getenv("APP_ENV", "development"),
		Port:           getenv("PORT", "3333"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SessionSecret:  os.Getenv("SESSION_SECRET"),
		RedisURL:       os.Getenv("REDIS_URL"),
		MetricsUser:    os.Getenv("METRICS_USER"),
		MetricsPass:    os.Getenv("METRICS_PASS"),
		PprofSecret:    os.Getenv("PPROF_SECRET"),
		MigrationsDir:  os.Getenv("MIGRATIONS_DIR"),
		TrustedProxies: listEnv("TRUSTED_PROXIES"),
	}

	var err error
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LeaderboardCacheTTL, err = durationEnv("LEADERBOARD_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.LiveRefreshInterval, err = durationEnv("LIVE_REFRESH_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = floatEnv("RATE_LIMIT_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", 30); err != nil {
		return nil, err
	}

	mode, ok := entry.ParseMode(os.Getenv("STEP_ENTRY_MODE"))
	if !ok {
		return nil, fmt.Errorf("STEP_ENTRY_MODE must be %q or %q", entry.ModeDaily, entry.ModeCumulative)
	}
	cfg.EntryMode = mode

	if cfg.SessionSecret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("SESSION_SECRET environment variable is not set")
		}
		cfg.SessionSecret = devSessionSecret
	}

	return cfg, nil
}

// RequireDatabase fails when no database URL was configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is not set")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// listEnv splits a comma-separated variable, dropping blanks.
func listEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
