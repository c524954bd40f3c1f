// Package config loads and validates configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jacokyle01/puzzle-miner/engine"
	"github.com/jacokyle01/puzzle-miner/extract"
)

// Config holds the settings of the server and worker commands.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	QueueSize           int
	MaxRequestBodyBytes int64
	DBPath              string
	// JobLease is how long a worker may hold a job before it is queued
	// again.
	JobLease time.Duration

	// Worker settings.
	ServerURL       string
	WorkerName      string
	PollInterval    time.Duration
	MaxPollInterval time.Duration

	// Engine settings.
	EnginePath     string
	EngineThrottle time.Duration
	EngineWatchdog time.Duration

	// OptionsFile is a YAML file of extraction thresholds applied over the
	// defaults.
	OptionsFile string

	LogLevel string
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	var errs []error
	str := func(key, def string) string { return envStr(key, def) }
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		Port:                num("PUZZLER_PORT", 8080),
		ReadTimeout:         dur("PUZZLER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        dur("PUZZLER_WRITE_TIMEOUT", 30*time.Second),
		QueueSize:           num("PUZZLER_QUEUE_SIZE", 100),
		MaxRequestBodyBytes: int64(num("PUZZLER_MAX_REQUEST_BODY_BYTES", 8*1024*1024)),
		DBPath:              str("PUZZLER_DB_PATH", "puzzles.db"),
		JobLease:            dur("PUZZLER_JOB_LEASE", 15*time.Minute),
		ServerURL:           str("PUZZLER_SERVER_URL", "http://localhost:8080"),
		WorkerName:          str("PUZZLER_WORKER_NAME", hostname()),
		PollInterval:        dur("PUZZLER_POLL_INTERVAL", 2*time.Second),
		MaxPollInterval:     dur("PUZZLER_MAX_POLL_INTERVAL", 30*time.Second),
		EnginePath:          str("PUZZLER_ENGINE_PATH", "stockfish"),
		EngineThrottle:      dur("PUZZLER_ENGINE_THROTTLE", engine.DefaultThrottle),
		EngineWatchdog:      dur("PUZZLER_ENGINE_WATCHDOG", engine.DefaultWatchdog),
		OptionsFile:         str("PUZZLER_OPTIONS_FILE", ""),
		LogLevel:            str("PUZZLER_LOG_LEVEL", "info"),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PUZZLER_PORT %d out of range", c.Port)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("config: PUZZLER_QUEUE_SIZE must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: PUZZLER_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.JobLease <= 0 {
		return fmt.Errorf("config: PUZZLER_JOB_LEASE must be positive")
	}
	if c.EngineWatchdog < engine.MinWatchdog {
		return fmt.Errorf("config: PUZZLER_ENGINE_WATCHDOG must be at least %s", engine.MinWatchdog)
	}
	if c.PollInterval <= 0 || c.MaxPollInterval < c.PollInterval {
		return fmt.Errorf("config: poll intervals must be positive and max >= initial")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

// ExtractOptions returns the default extraction options overlaid with the
// options file, if one is configured.
func (c Config) ExtractOptions() (extract.Options, error) {
	return LoadExtractOptions(c.OptionsFile, extract.DefaultOptions())
}

// LoadExtractOptions overlays the YAML file at path onto base. Keys missing
// from the file keep base's value. An empty path returns base unchanged.
func LoadExtractOptions(path string, base extract.Options) (extract.Options, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read options file: %w", err)
	}
	opts := base
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return base, fmt.Errorf("config: parse options file %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return base, fmt.Errorf("config: %s: %w", path, err)
	}
	return opts, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown PUZZLER_LOG_LEVEL %q", s)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return h
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
