/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. .env file in the working directory (optional)
  3. Environment variables
  4. Command-line flags

KEYS:
  PORT               HTTP port                      8080
  DB_PATH            SQLite path or ":memory:"      dairy.db
  TIMEZONE           farms' local zone              Local
  SWEEP_AT           daily sweep time, HH:MM        05:00
                     no later than the first session cutoff, or
                     same-day subscription orders would be refused
  SWEEP_ENABLED      run the daily sweep            true
  SWEEP_CONCURRENCY  parallel subscriptions         1
  LOCK_BACKEND       local | redis                  local
  LOCK_TIMEOUT       max wait for a bucket lock     5s
  LOCK_TTL           redis lock expiry              30s
  REDIS_ADDRESS      redis host:port                localhost:6379
  LOG_LEVEL          logrus level                   info
  LOG_FORMAT         json | text                    json
  CORS_ORIGINS       comma-separated origins        http://localhost:5173
*/
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/dairy-engine/dairy"
)

type Config struct {
	Port   int
	DBPath string

	Location *time.Location
	SweepAt  Clock

	SweepEnabled     bool
	SweepConcurrency int

	LockBackend  string
	LockTimeout  time.Duration
	LockTTL      time.Duration
	RedisAddress string

	LogLevel  string
	LogFormat string

	CORSOrigins []string
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) Cutoff() dairy.Cutoff { return dairy.Cutoff{Hour: c.Hour, Minute: c.Minute} }

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time of day %q (use HH:MM)", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Load reads .env, the environment and args (without the program name).
func Load(args []string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	fs := flag.NewFlagSet("dairy-server", flag.ContinueOnError)
	port := fs.String("port", env("PORT", "8080"), "HTTP server port")
	dbPath := fs.String("db", env("DB_PATH", "dairy.db"), "SQLite database path")
	tz := fs.String("tz", env("TIMEZONE", "Local"), "farms' time zone (IANA name)")
	sweepAt := fs.String("sweep-at", env("SWEEP_AT", "05:00"), "daily subscription sweep time (HH:MM)")
	sweepEnabled := fs.String("sweep", env("SWEEP_ENABLED", "true"), "run the daily subscription sweep")
	sweepConc := fs.String("sweep-concurrency", env("SWEEP_CONCURRENCY", "1"), "subscriptions processed in parallel")
	lockBackend := fs.String("lock", env("LOCK_BACKEND", "local"), "bucket lock backend: local or redis")
	lockTimeout := fs.String("lock-timeout", env("LOCK_TIMEOUT", "5s"), "max wait for a bucket lock")
	lockTTL := fs.String("lock-ttl", env("LOCK_TTL", "30s"), "redis lock expiry")
	redisAddr := fs.String("redis", env("REDIS_ADDRESS", "localhost:6379"), "redis address")
	logLevel := fs.String("log-level", env("LOG_LEVEL", "info"), "log level")
	logFormat := fs.String("log-format", env("LOG_FORMAT", "json"), "log format: json or text")
	origins := fs.String("cors", env("CORS_ORIGINS", "http://localhost:5173"), "allowed CORS origins")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		DBPath:       *dbPath,
		LockBackend:  strings.ToLower(*lockBackend),
		RedisAddress: *redisAddr,
		LogLevel:     *logLevel,
		LogFormat:    strings.ToLower(*logFormat),
		CORSOrigins:  splitList(*origins),
	}

	var err error
	if cfg.Port, err = strconv.Atoi(*port); err != nil || cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port %q", *port)
	}
	if cfg.Location, err = time.LoadLocation(*tz); err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", *tz, err)
	}
	if cfg.SweepAt, err = ParseClock(*sweepAt); err != nil {
		return nil, err
	}
	if first, ok := dairy.DefaultSessionWindows().Earliest(); ok && first.Before(cfg.SweepAt.Cutoff()) {
		return nil, fmt.Errorf("sweep time %s is after the %s session cutoff; subscription orders for that session would be refused", cfg.SweepAt, first)
	}
	if cfg.SweepEnabled, err = strconv.ParseBool(*sweepEnabled); err != nil {
		return nil, fmt.Errorf("invalid sweep flag %q", *sweepEnabled)
	}
	if cfg.SweepConcurrency, err = strconv.Atoi(*sweepConc); err != nil || cfg.SweepConcurrency < 1 {
		return nil, fmt.Errorf("invalid sweep concurrency %q", *sweepConc)
	}
	if cfg.LockTimeout, err = time.ParseDuration(*lockTimeout); err != nil || cfg.LockTimeout <= 0 {
		return nil, fmt.Errorf("invalid lock timeout %q", *lockTimeout)
	}
	if cfg.LockTTL, err = time.ParseDuration(*lockTTL); err != nil || cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("invalid lock ttl %q", *lockTTL)
	}
	switch cfg.LockBackend {
	case "local", "redis":
	default:
		return nil, fmt.Errorf("invalid lock backend %q (local or redis)", *lockBackend)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid log format %q (json or text)", *logFormat)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
