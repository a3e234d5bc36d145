package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validAuthModes  = []string{"token", "app"}
	validDeferModes = []string{"wait", "fail"}
	validBackends   = []string{"memory", "redis"}
	validScopes     = []string{"pulls", "issues", "all"}
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	GitHub    GitHubConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Collect   CollectConfig
	Store     StoreConfig
	Report    ReportConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains settings for the optional report/metrics HTTP server.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// GitHubConfig configures GitHub API access.
type GitHubConfig struct {
	APIBaseURL     string
	AuthMode       string
	TokenEnv       string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	RequestTimeout time.Duration
}

// RateLimitConfig configures the shared quota gate.
type RateLimitConfig struct {
	InitialRemaining int
	MinResetBuffer   time.Duration
	DeferMode        string
}

// RetryConfig configures request retries.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// CollectConfig configures a collection run.
type CollectConfig struct {
	Workers    int
	MaxCalls   int
	Scope      string
	TimeBox    time.Duration
	PullState  string
	IssueState string
}

// StoreConfig configures entity storage.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Namespace     string `yaml:"namespace"`
}

// SizeTierConfig is one change-size bucket for merge-time reporting.
// MaxLinesChanged of 0 marks the unbounded catch-all tier.
type SizeTierConfig struct {
	Name            string `yaml:"name"`
	MaxLinesChanged int    `yaml:"max_lines_changed"`
}

// ReportConfig configures report derivation.
type ReportConfig struct {
	SizeTiers        []SizeTierConfig
	AutomationActors []string
	ActivityWindow   time.Duration
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool
	OTELTraceMode        string
	OTELTraceSampleRatio float64
}

// Default returns the configuration used when no config file is provided.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from YAML and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if !slices.Contains(validAuthModes, c.GitHub.AuthMode) {
		errs = append(errs, "github.auth_mode must be token or app")
	}
	if c.GitHub.AuthMode == "app" {
		if c.GitHub.AppID <= 0 {
			errs = append(errs, "github.app_id must be > 0 when github.auth_mode=app")
		}
		if c.GitHub.InstallationID <= 0 {
			errs = append(errs, "github.installation_id must be > 0 when github.auth_mode=app")
		}
		if c.GitHub.PrivateKeyPath == "" {
			errs = append(errs, "github.private_key_path is required when github.auth_mode=app")
		}
	}
	if c.GitHub.AuthMode == "token" && c.GitHub.TokenEnv == "" {
		errs = append(errs, "github.token_env is required when github.auth_mode=token")
	}

	if c.RateLimit.InitialRemaining < 0 {
		errs = append(errs, "rate_limit.initial_remaining must be >= 0")
	}
	if !slices.Contains(validDeferModes, c.RateLimit.DeferMode) {
		errs = append(errs, "rate_limit.defer_mode must be wait or fail")
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be > 0")
	}

	if c.Collect.Workers <= 0 {
		errs = append(errs, "collect.workers must be > 0")
	}
	if c.Collect.MaxCalls < 0 {
		errs = append(errs, "collect.max_calls must be >= 0")
	}
	if !slices.Contains(validScopes, c.Collect.Scope) {
		errs = append(errs, "collect.scope must be pulls, issues, or all")
	}

	if !slices.Contains(validBackends, c.Store.Backend) {
		errs = append(errs, "store.backend must be memory or redis")
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		errs = append(errs, "store.redis_addr is required when store.backend=redis")
	}

	seenTiers := make(map[string]struct{}, len(c.Report.SizeTiers))
	for i, tier := range c.Report.SizeTiers {
		prefix := fmt.Sprintf("report.size_tiers[%d]", i)
		if tier.Name == "" {
			errs = append(errs, prefix+".name is required")
		}
		if _, ok := seenTiers[tier.Name]; ok {
			errs = append(errs, "report.size_tiers contains duplicate tier: "+tier.Name)
		}
		seenTiers[tier.Name] = struct{}{}
	}
	if n := len(c.Report.SizeTiers); n > 0 {
		for i, tier := range c.Report.SizeTiers[:n-1] {
			if tier.MaxLinesChanged <= 0 {
				errs = append(errs, fmt.Sprintf("report.size_tiers[%d].max_lines_changed must be > 0 for all but the last tier", i))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.GitHub.AuthMode == "" {
		cfg.GitHub.AuthMode = "token"
	}
	if cfg.GitHub.TokenEnv == "" {
		cfg.GitHub.TokenEnv = "GITHUB_TOKEN"
	}
	if cfg.GitHub.RequestTimeout <= 0 {
		cfg.GitHub.RequestTimeout = 30 * time.Second
	}
	if cfg.RateLimit.InitialRemaining == 0 {
		cfg.RateLimit.InitialRemaining = 5000
	}
	if cfg.RateLimit.MinResetBuffer <= 0 {
		cfg.RateLimit.MinResetBuffer = 5 * time.Second
	}
	if cfg.RateLimit.DeferMode == "" {
		cfg.RateLimit.DeferMode = "wait"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff <= 0 {
		cfg.Retry.InitialBackoff = time.Second
	}
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = 30 * time.Second
	}
	if cfg.Collect.Workers == 0 {
		cfg.Collect.Workers = 4
	}
	if cfg.Collect.Scope == "" {
		cfg.Collect.Scope = "all"
	}
	if cfg.Collect.PullState == "" {
		cfg.Collect.PullState = "all"
	}
	if cfg.Collect.IssueState == "" {
		cfg.Collect.IssueState = "all"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Namespace == "" {
		cfg.Store.Namespace = "gdfm"
	}
	if cfg.Report.ActivityWindow <= 0 {
		cfg.Report.ActivityWindow = 90 * 24 * time.Hour
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    ServerConfig `yaml:"server"`
	GitHub    rawGitHub    `yaml:"github"`
	RateLimit rawRateLimit `yaml:"rate_limit"`
	Retry     rawRetry     `yaml:"retry"`
	Collect   rawCollect   `yaml:"collect"`
	Store     StoreConfig  `yaml:"store"`
	Report    rawReport    `yaml:"report"`
	Telemetry rawTelemetry `yaml:"telemetry"`
}

type rawGitHub struct {
	APIBaseURL     string   `yaml:"api_base_url"`
	AuthMode       string   `yaml:"auth_mode"`
	TokenEnv       string   `yaml:"token_env"`
	AppID          int64    `yaml:"app_id"`
	InstallationID int64    `yaml:"installation_id"`
	PrivateKeyPath string   `yaml:"private_key_path"`
	RequestTimeout duration `yaml:"request_timeout"`
}

type rawRateLimit struct {
	InitialRemaining int      `yaml:"initial_remaining"`
	MinResetBuffer   duration `yaml:"min_reset_buffer"`
	DeferMode        string   `yaml:"defer_mode"`
}

type rawRetry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff duration `yaml:"initial_backoff"`
	MaxBackoff     duration `yaml:"max_backoff"`
}

type rawCollect struct {
	Workers    int      `yaml:"workers"`
	MaxCalls   int      `yaml:"max_calls"`
	Scope      string   `yaml:"scope"`
	TimeBox    duration `yaml:"time_box"`
	PullState  string   `yaml:"pull_state"`
	IssueState string   `yaml:"issue_state"`
}

type rawReport struct {
	SizeTiers        []SizeTierConfig `yaml:"size_tiers"`
	AutomationActors []string         `yaml:"automation_actors"`
	ActivityWindow   duration         `yaml:"activity_window"`
}

type rawTelemetry struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server: r.Server,
		GitHub: GitHubConfig{
			APIBaseURL:     r.GitHub.APIBaseURL,
			AuthMode:       r.GitHub.AuthMode,
			TokenEnv:       r.GitHub.TokenEnv,
			AppID:          r.GitHub.AppID,
			InstallationID: r.GitHub.InstallationID,
			PrivateKeyPath: r.GitHub.PrivateKeyPath,
			RequestTimeout: r.GitHub.RequestTimeout.Duration,
		},
		RateLimit: RateLimitConfig{
			InitialRemaining: r.RateLimit.InitialRemaining,
			MinResetBuffer:   r.RateLimit.MinResetBuffer.Duration,
			DeferMode:        r.RateLimit.DeferMode,
		},
		Retry: RetryConfig{
			MaxAttempts:    r.Retry.MaxAttempts,
			InitialBackoff: r.Retry.InitialBackoff.Duration,
			MaxBackoff:     r.Retry.MaxBackoff.Duration,
		},
		Collect: CollectConfig{
			Workers:    r.Collect.Workers,
			MaxCalls:   r.Collect.MaxCalls,
			Scope:      r.Collect.Scope,
			TimeBox:    r.Collect.TimeBox.Duration,
			PullState:  r.Collect.PullState,
			IssueState: r.Collect.IssueState,
		},
		Store: r.Store,
		Report: ReportConfig{
			SizeTiers:        r.Report.SizeTiers,
			AutomationActors: r.Report.AutomationActors,
			ActivityWindow:   r.Report.ActivityWindow.Duration,
		},
		Telemetry: TelemetryConfig{
			OTELEnabled:          r.Telemetry.OTELEnabled,
			OTELTraceMode:        r.Telemetry.OTELTraceMode,
			OTELTraceSampleRatio: r.Telemetry.OTELTraceSampleRatio,
		},
	}
}
