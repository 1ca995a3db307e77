package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for the meetswap server.
type Config struct {
	Listen      string         `yaml:"listen"`
	DatabaseURL string         `yaml:"databaseURL"`
	Auth        AuthConfig     `yaml:"auth"`
	Gateway     GatewayConfig  `yaml:"gateway"`
	Rates       RatesConfig    `yaml:"rates"`
	Notifier    NotifierConfig `yaml:"notifier"`
	RateLimit   RateLimit      `yaml:"rateLimit"`
	CORS        CORSConfig     `yaml:"cors"`
	Logging     LoggingConfig  `yaml:"logging"`
	Tracker     TrackerConfig  `yaml:"tracker"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Tracing     TracingConfig  `yaml:"tracing"`
}

// AuthConfig controls session tokens.
type AuthConfig struct {
	JWTSecret  string   `yaml:"jwtSecret"`
	SessionTTL Duration `yaml:"sessionTTL"`
}

// GatewayConfig points at the fee payment processor. Sandbox settles every
// charge locally and is meant for development only.
type GatewayConfig struct {
	BaseURL string   `yaml:"baseURL"`
	APIKey  string   `yaml:"apiKey"`
	Timeout Duration `yaml:"timeout"`
	Sandbox bool     `yaml:"sandbox"`
}

// RatesConfig selects the exchange rate source. Static is a table of units
// per USD used when URL is empty.
type RatesConfig struct {
	URL     string            `yaml:"url"`
	Refresh Duration          `yaml:"refresh"`
	Static  map[string]string `yaml:"static"`
}

// NotifierConfig sizes the notification queue.
type NotifierConfig struct {
	QueueSize int `yaml:"queueSize"`
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	Burst             int `yaml:"burst"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// LoggingConfig tunes the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
	File  string `yaml:"file"`
}

// TrackerConfig tunes live location sharing around the meeting.
type TrackerConfig struct {
	Window       Duration `yaml:"window"`
	RadiusMeters float64  `yaml:"radiusMeters"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig points the OTLP/HTTP trace exporter at a collector.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Load reads configuration from the supplied path, then applies MEETSWAP_*
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Auth.SessionTTL.Duration == 0 {
		cfg.Auth.SessionTTL.Duration = 24 * time.Hour
	}
	if cfg.Gateway.Timeout.Duration == 0 {
		cfg.Gateway.Timeout.Duration = 15 * time.Second
	}
	if cfg.Rates.Refresh.Duration == 0 {
		cfg.Rates.Refresh.Duration = 10 * time.Minute
	}
	if cfg.Rates.URL == "" && len(cfg.Rates.Static) == 0 {
		cfg.Rates.Static = map[string]string{"USD": "1"}
	}
	if cfg.Notifier.QueueSize <= 0 {
		cfg.Notifier.QueueSize = 256
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Tracker.Window.Duration == 0 {
		cfg.Tracker.Window.Duration = time.Hour
	}
	if cfg.Tracker.RadiusMeters == 0 {
		cfg.Tracker.RadiusMeters = 1609.344
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "localhost:4318"
	}
}

func applyEnv(cfg *Config) error {
	cfg.Listen = getenvDefault("MEETSWAP_LISTEN", cfg.Listen)
	cfg.DatabaseURL = getenvDefault("MEETSWAP_DATABASE_URL", cfg.DatabaseURL)
	cfg.Auth.JWTSecret = getenvDefault("MEETSWAP_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Gateway.BaseURL = getenvDefault("MEETSWAP_GATEWAY_URL", cfg.Gateway.BaseURL)
	cfg.Gateway.APIKey = getenvDefault("MEETSWAP_GATEWAY_API_KEY", cfg.Gateway.APIKey)
	cfg.Rates.URL = getenvDefault("MEETSWAP_RATES_URL", cfg.Rates.URL)
	cfg.Logging.Level = getenvDefault("MEETSWAP_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Env = getenvDefault("MEETSWAP_ENV", cfg.Logging.Env)
	cfg.Tracing.Endpoint = getenvDefault("MEETSWAP_TRACING_ENDPOINT", cfg.Tracing.Endpoint)

	if raw := strings.TrimSpace(os.Getenv("MEETSWAP_SESSION_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse MEETSWAP_SESSION_TTL: %w", err)
		}
		cfg.Auth.SessionTTL.Duration = dur
	}
	if raw := strings.TrimSpace(os.Getenv("MEETSWAP_GATEWAY_SANDBOX")); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse MEETSWAP_GATEWAY_SANDBOX: %w", err)
		}
		cfg.Gateway.Sandbox = val
	}
	if raw := strings.TrimSpace(os.Getenv("MEETSWAP_TRACING_ENABLED")); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse MEETSWAP_TRACING_ENABLED: %w", err)
		}
		cfg.Tracing.Enabled = val
	}
	if raw := strings.TrimSpace(os.Getenv("MEETSWAP_RATE_LIMIT_RPM")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse MEETSWAP_RATE_LIMIT_RPM: %w", err)
		}
		cfg.RateLimit.RequestsPerMinute = val
	}
	if raw := strings.TrimSpace(os.Getenv("MEETSWAP_CORS_ORIGINS")); raw != "" {
		cfg.CORS.AllowedOrigins = nil
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}
	return nil
}

// Validate reports the first configuration error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwtSecret is required")
	}
	if c.Auth.SessionTTL.Duration <= 0 {
		return errors.New("auth.sessionTTL must be positive")
	}
	if !c.Gateway.Sandbox && c.Gateway.BaseURL == "" {
		return errors.New("gateway.baseURL is required unless gateway.sandbox is set")
	}
	if c.Gateway.Timeout.Duration <= 0 {
		return errors.New("gateway.timeout must be positive")
	}
	if _, err := c.StaticRates(); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rateLimit values must be positive")
	}
	if c.Tracker.Window.Duration <= 0 || c.Tracker.RadiusMeters <= 0 {
		return errors.New("tracker window and radius must be positive")
	}
	return nil
}

// StaticRates parses the static rate table.
func (c Config) StaticRates() (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal, len(c.Rates.Static))
	for code, raw := range c.Rates.Static {
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("rates.static.%s: %w", code, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rates.static.%s must be positive", code)
		}
		rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return rates, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
