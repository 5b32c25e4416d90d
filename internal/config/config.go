package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/schematichub/overview-gateway/internal/hooks"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/gateway.ini"
	envPrefix        = "OVERVIEW_"
)

// Provider and generator choices.
const (
	ProviderXAI      = "xai"
	ProviderLoopback = "loopback"

	GeneratorProvider    = "provider"
	GeneratorPlaceholder = "placeholder"

	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// StoreConfig selects and sizes the summary store.
type StoreConfig struct {
	Driver          string
	Path            string
	DSN             string
	MaxOpen         int
	MaxIdle         int
	LifetimeMinutes int
	IdleTimeMinutes int
}

// RateLimitConfig configures inbound throttling of the HTTP API.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// GatewayConfig describes runtime options for the daemon and CLI.
type GatewayConfig struct {
	Environment     string
	HTTPAddress     string
	ShutdownTimeout time.Duration
	LogFile         string
	LogLevel        string

	// Upstream generation provider
	Provider       string
	XAIAPIKey      string
	XAIBaseURL     string
	RequestTimeout time.Duration
	ChatModel      string
	SummaryModel   string

	// Streaming relay
	StreamKeepAlive time.Duration
	StreamBuffer    int

	// Batch pipeline
	OverviewGenerator string
	PromptsFile       string
	Store             StoreConfig
	GitHubBaseURL     string
	GitHubToken       string
	HistoryCacheTTL   time.Duration

	Hooks     hooks.Config
	RateLimit RateLimitConfig
}

// LoadGatewayConfig reads the current environment and loads the appropriate
// gateway config file. Environment variables override file values.
func LoadGatewayConfig(root string) (GatewayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return GatewayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return GatewayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	// value resolves a key: OVERVIEW_<KEY> env var first, then the files.
	value := func(key string, fallback ...string) string {
		candidates := append([]string{os.Getenv(envPrefix + strings.ToUpper(key)), merged[key]}, fallback...)
		return strings.TrimSpace(firstNonEmpty(candidates...))
	}

	cfg := GatewayConfig{
		Environment:       s.Environment,
		HTTPAddress:       value("http_address", ":8080"),
		LogFile:           value("log_file"),
		LogLevel:          strings.ToLower(value("log_level", "info")),
		Provider:          strings.ToLower(value("provider", ProviderXAI)),
		XAIAPIKey:         firstNonEmpty(os.Getenv("XAI_API_KEY"), value("xai_api_key")),
		XAIBaseURL:        value("xai_base_url", "https://api.x.ai/v1"),
		ChatModel:         value("chat_model", "grok-3-fast"),
		SummaryModel:      value("summary_model", "grok-4-1-fast-reasoning"),
		StreamBuffer:      parseOptionalInt(value("stream_buffer"), 16),
		OverviewGenerator: strings.ToLower(value("overview_generator", GeneratorPlaceholder)),
		PromptsFile:       value("prompts_file"),
		GitHubBaseURL:     value("github_base_url", "https://api.github.com"),
		GitHubToken:       firstNonEmpty(os.Getenv("GITHUB_TOKEN"), value("github_token")),
		Store: StoreConfig{
			Driver:          strings.ToLower(value("store_driver", StoreSQLite)),
			Path:            value("store_path", DefaultStorePath()),
			DSN:             value("store_dsn"),
			MaxOpen:         parseOptionalInt(value("store_max_open_conns"), 20),
			MaxIdle:         parseOptionalInt(value("store_max_idle_conns"), 5),
			LifetimeMinutes: parseOptionalInt(value("store_conn_max_lifetime_minutes"), 60),
			IdleTimeMinutes: parseOptionalInt(value("store_conn_max_idle_minutes"), 10),
		},
		RateLimit: RateLimitConfig{
			Enabled: parseBool(value("ratelimit_enabled")),
			Burst:   parseOptionalInt(value("ratelimit_burst"), 20),
		},
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"request_timeout", "1h", &cfg.RequestTimeout},
		{"stream_keepalive", "15s", &cfg.StreamKeepAlive},
		{"history_cache_ttl", "10m", &cfg.HistoryCacheTTL},
		{"shutdown_timeout", "30s", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v := value(d.key, d.fallback)
		dur, err := time.ParseDuration(v)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = dur
	}

	if v := value("ratelimit_rps", "10"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid ratelimit_rps %q: %w", v, err)
		}
		cfg.RateLimit.RPS = rps
	}

	cfg.Hooks = hooks.Config{
		Enabled:    parseBool(value("hooks_enabled")),
		ScriptPath: value("hooks_script_path"),
		ScriptArgs: parseCSV(value("hooks_script_args")),
		Env:        parseMap(value("hooks_script_env")),
	}
	for _, name := range parseCSV(value("hooks_events")) {
		typ, err := hooks.ParseEventType(name)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid hooks_events: %w", err)
		}
		cfg.Hooks.Events = append(cfg.Hooks.Events, typ)
	}
	if v := value("hooks_timeout"); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid hooks_timeout %q: %w", v, err)
		}
		cfg.Hooks.Timeout = dur
	}
	if err := cfg.Hooks.Validate(); err != nil {
		return GatewayConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

// Validate checks enumerated options. A missing xAI key is not an error here:
// it surfaces as a configuration error on first use so /health keeps working.
func (c GatewayConfig) Validate() error {
	switch c.Provider {
	case ProviderXAI, ProviderLoopback:
	default:
		return fmt.Errorf("invalid provider %q (want %s or %s)", c.Provider, ProviderXAI, ProviderLoopback)
	}
	switch c.OverviewGenerator {
	case GeneratorProvider, GeneratorPlaceholder:
	default:
		return fmt.Errorf("invalid overview_generator %q (want %s or %s)", c.OverviewGenerator, GeneratorProvider, GeneratorPlaceholder)
	}
	switch c.Store.Driver {
	case StoreSQLite:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store_dsn required when store_driver=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("invalid store_driver %q", c.Store.Driver)
	}
	if c.StreamBuffer <= 0 {
		return fmt.Errorf("stream_buffer must be positive, got %d", c.StreamBuffer)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("ratelimit_rps and ratelimit_burst must be positive when ratelimit_enabled")
	}
	return nil
}

// Debug reports whether verbose logging was requested.
func (c GatewayConfig) Debug() bool {
	return c.LogLevel == "debug"
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv(envPrefix+"ENV"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

// parseINI flattens every section of an INI file into one lower-cased key
// space; section headers only group keys for readability.
func parseINI(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	file, err := ini.LoadSources(ini.LoadOptions{Insensitive: true, IgnoreInlineComment: true, KeyValueDelimiters: "="}, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	values := make(map[string]string)
	for _, section := range file.Sections() {
		for _, key := range section.Keys() {
			values[strings.ToLower(key.Name())] = strings.TrimSpace(key.String())
		}
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// DefaultStorePath returns the fallback summary database location under the
// user's home directory.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "summaries.db"
	}
	return filepath.Join(home, ".overview-gateway", "summaries.db")
}
