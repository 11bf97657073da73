// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vin-jex/job-engine/internal/guard"
	"github.com/vin-jex/job-engine/internal/retry"
)

type Config struct {
	DatabaseURL string

	PollInterval           time.Duration
	ClaimBatchSize         int
	MaxWorkerConcurrency   int
	MaxRunningJobsPerOwner int
	ShutdownGrace          time.Duration

	RunningJobTimeout time.Duration
	ReaperBatchSize   int
	JobMaxRuntime     time.Duration

	JobBackoffBase time.Duration
	JobBackoffMax  time.Duration
	JobMaxAttempts int

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	CallTimeout             time.Duration
	CallRetries             int
	CallRetryBase           time.Duration
	CallRetryMax            time.Duration

	MissingCredentialsPolicy retry.ConfigErrorPolicy

	LogLevel        string
	HTTPAddr        string
	MetricsAddr     string
	OTELEnabled     bool
	OTELEndpoint    string
	OTELSampleRatio float64

	HTTPCallAuthToken string
}

// Load reads .env files when present, then the environment, and validates
// the result.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, applying defaults for unset keys.
func FromEnv(lookup func(key string) (string, bool)) (Config, error) {
	p := parser{lookup: lookup}

	config := Config{
		DatabaseURL: p.string("DATABASE_URL", ""),

		PollInterval:           p.duration("POLL_INTERVAL", time.Second),
		ClaimBatchSize:         p.int("CLAIM_BATCH_SIZE", 5),
		MaxWorkerConcurrency:   p.int("MAX_WORKER_CONCURRENCY", 4),
		MaxRunningJobsPerOwner: p.int("MAX_RUNNING_JOBS_PER_USER", 3),
		ShutdownGrace:          p.duration("SHUTDOWN_GRACE", 30*time.Second),

		RunningJobTimeout: p.duration("RUNNING_JOB_TIMEOUT", 15*time.Minute),
		ReaperBatchSize:   p.int("REAPER_BATCH_SIZE", 50),
		JobMaxRuntime:     p.duration("JOB_MAX_RUNTIME", 10*time.Minute),

		JobBackoffBase: p.duration("JOB_BACKOFF_BASE", 500*time.Millisecond),
		JobBackoffMax:  p.duration("JOB_BACKOFF_MAX", 5*time.Minute),
		JobMaxAttempts: p.int("JOB_MAX_ATTEMPTS", 0),

		BreakerFailureThreshold: p.int("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         p.duration("BREAKER_COOLDOWN", 60*time.Second),
		CallTimeout:             p.duration("CALL_TIMEOUT", 30*time.Second),
		CallRetries:             p.int("CALL_RETRIES", 2),
		CallRetryBase:           p.duration("CALL_RETRY_BASE", 200*time.Millisecond),
		CallRetryMax:            p.duration("CALL_RETRY_MAX", 2*time.Second),

		MissingCredentialsPolicy: retry.ConfigErrorPolicy(
			strings.ToLower(p.string("MISSING_CREDENTIALS_POLICY", string(retry.ConfigErrorFail))),
		),

		LogLevel:        p.string("LOG_LEVEL", "info"),
		HTTPAddr:        p.string("HTTP_ADDR", ":8080"),
		MetricsAddr:     p.string("METRICS_ADDR", ":9090"),
		OTELEnabled:     p.bool("OTEL_ENABLED", false),
		OTELEndpoint:    p.string("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELSampleRatio: p.float("OTEL_SAMPLE_RATIO", 1),

		HTTPCallAuthToken: p.string("HTTPCALL_AUTH_TOKEN", ""),
	}

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate rejects contradictory settings. Only these are fatal at startup.
func (c Config) Validate() error {
	var errs []error

	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.ClaimBatchSize < 1 {
		errs = append(errs, errors.New("CLAIM_BATCH_SIZE must be at least 1"))
	}
	if c.MaxWorkerConcurrency < 1 {
		errs = append(errs, errors.New("MAX_WORKER_CONCURRENCY must be at least 1"))
	}
	if c.MaxRunningJobsPerOwner < 0 {
		errs = append(errs, errors.New("MAX_RUNNING_JOBS_PER_USER must not be negative"))
	}
	if c.RunningJobTimeout <= 0 {
		errs = append(errs, errors.New("RUNNING_JOB_TIMEOUT must be positive"))
	}
	if c.JobMaxRuntime > 0 && c.JobMaxRuntime >= c.RunningJobTimeout {
		errs = append(errs, fmt.Errorf(
			"JOB_MAX_RUNTIME (%s) must be shorter than RUNNING_JOB_TIMEOUT (%s)",
			c.JobMaxRuntime, c.RunningJobTimeout,
		))
	}
	if c.JobBackoffBase <= 0 {
		errs = append(errs, errors.New("JOB_BACKOFF_BASE must be positive"))
	}
	if c.JobBackoffBase > c.JobBackoffMax {
		errs = append(errs, fmt.Errorf(
			"JOB_BACKOFF_BASE (%s) must not exceed JOB_BACKOFF_MAX (%s)",
			c.JobBackoffBase, c.JobBackoffMax,
		))
	}
	if c.JobMaxAttempts < 0 {
		errs = append(errs, errors.New("JOB_MAX_ATTEMPTS must not be negative"))
	}
	if c.BreakerFailureThreshold < 1 {
		errs = append(errs, errors.New("BREAKER_FAILURE_THRESHOLD must be at least 1"))
	}
	if c.BreakerCooldown <= 0 {
		errs = append(errs, errors.New("BREAKER_COOLDOWN must be positive"))
	}
	if c.CallRetries < 0 {
		errs = append(errs, errors.New("CALL_RETRIES must not be negative"))
	}
	if c.CallRetryBase > c.CallRetryMax {
		errs = append(errs, errors.New("CALL_RETRY_BASE must not exceed CALL_RETRY_MAX"))
	}

	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATIO must be between 0 and 1"))
	}

	switch c.MissingCredentialsPolicy {
	case retry.ConfigErrorSkip, retry.ConfigErrorFail:
	default:
		errs = append(errs, fmt.Errorf(
			"MISSING_CREDENTIALS_POLICY must be %q or %q, got %q",
			retry.ConfigErrorSkip, retry.ConfigErrorFail, c.MissingCredentialsPolicy,
		))
	}

	return errors.Join(errs...)
}

// RequireDatabase is checked by binaries that talk to PostgreSQL.
func (c Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

func (c Config) Guard() guard.Config {
	return guard.Config{
		Timeout:          c.CallTimeout,
		Retries:          c.CallRetries,
		RetryBase:        c.CallRetryBase,
		RetryMax:         c.CallRetryMax,
		FailureThreshold: c.BreakerFailureThreshold,
		Cooldown:         c.BreakerCooldown,
	}
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) raw(key string) (string, bool) {
	value, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (p *parser) string(key, fallback string) string {
	if value, ok := p.raw(key); ok {
		return value
	}
	return fallback
}

func (p *parser) int(key string, fallback int) int {
	value, ok := p.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	value, ok := p.raw(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func (p *parser) bool(key string, fallback bool) bool {
	value, ok := p.raw(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

// duration accepts Go duration strings ("500ms", "2m") or bare milliseconds.
func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	value, ok := p.raw(key)
	if !ok {
		return fallback
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
