package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/backend-tix/internal/gateway"
)

// GatewayCreds holds a live and a test credential pair for one processor.
// The active pair is chosen by Mode at load time.
type GatewayCreds struct {
	Mode       gateway.Mode
	LiveKey    string
	LiveSecret string
	LiveSalt   string
	TestKey    string
	TestSecret string
	TestSalt   string
}

// Active returns the credentials for the configured mode.
func (g GatewayCreds) Active() gateway.Credentials {
	if g.Mode == gateway.ModeLive {
		return gateway.Credentials{Mode: g.Mode, KeyID: g.LiveKey, KeySecret: g.LiveSecret, Salt: g.LiveSalt}
	}
	return gateway.Credentials{Mode: gateway.ModeSandbox, KeyID: g.TestKey, KeySecret: g.TestSecret, Salt: g.TestSalt}
}

// Configured reports whether the active pair has a key.
func (g GatewayCreds) Configured() bool {
	return strings.TrimSpace(g.Active().KeyID) != ""
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv        string
	Port          string
	PublicBaseURL string
	StoreDriver   string
	DatabaseURL   string
	RedisURL      string

	CORSAllowedOrigins []string
	RateLimit          string
	BodyLimitBytes     int64

	Instamojo GatewayCreds
	Razorpay  GatewayCreds

	GatewayTimeout   time.Duration
	WebhookReplayTTL time.Duration

	SuccessPageURL  string
	PendingPageURL  string
	CancelPageURL   string
	FailedPageURL   string
	NotFoundPageURL string

	LogFormat string
	LogLevel  string

	MetricsNamespace string
	TracingEndpoint  string
	TracingExporter  string
	TracingSampling  float64
	TracingEnabled   bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:        valueOrDefault(k.String("APP_ENV"), "development"),
		Port:          valueOrDefault(k.String("PORT"), "8080"),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		StoreDriver:   valueOrDefault(strings.ToLower(k.String("STORE_DRIVER")), "postgres"),
		DatabaseURL:   k.String("DATABASE_URL"),
		RedisURL:      k.String("REDIS_URL"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "60-M"),
		BodyLimitBytes:     int64(k.Int("BODY_LIMIT_BYTES")),

		Instamojo: GatewayCreds{
			Mode:       parseMode(k.String("INSTAMOJO_MODE")),
			LiveKey:    k.String("INSTAMOJO_LIVE_KEY"),
			LiveSecret: k.String("INSTAMOJO_LIVE_TOKEN"),
			LiveSalt:   k.String("INSTAMOJO_LIVE_SALT"),
			TestKey:    k.String("INSTAMOJO_TEST_KEY"),
			TestSecret: k.String("INSTAMOJO_TEST_TOKEN"),
			TestSalt:   k.String("INSTAMOJO_TEST_SALT"),
		},
		Razorpay: GatewayCreds{
			Mode:       parseMode(k.String("RAZORPAY_MODE")),
			LiveKey:    k.String("RAZORPAY_LIVE_KEY_ID"),
			LiveSecret: k.String("RAZORPAY_LIVE_KEY_SECRET"),
			TestKey:    k.String("RAZORPAY_TEST_KEY_ID"),
			TestSecret: k.String("RAZORPAY_TEST_KEY_SECRET"),
		},

		GatewayTimeout:   parseDuration(k.String("GATEWAY_TIMEOUT"), "30s"),
		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		SuccessPageURL:  k.String("PAYMENT_SUCCESS_URL"),
		PendingPageURL:  k.String("PAYMENT_PENDING_URL"),
		CancelPageURL:   k.String("PAYMENT_CANCEL_URL"),
		FailedPageURL:   k.String("PAYMENT_FAILED_URL"),
		NotFoundPageURL: k.String("PAYMENT_NOT_FOUND_URL"),

		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),

		MetricsNamespace: valueOrDefault(k.String("METRICS_NAMESPACE"), "tix"),
		TracingEndpoint:  k.String("TRACING_ENDPOINT"),
		TracingExporter:  k.String("TRACING_EXPORTER"),
		TracingSampling:  k.Float64("TRACING_SAMPLING_RATIO"),
		TracingEnabled:   parseBool(k.String("TRACING_ENABLED")),
	}
	if cfg.BodyLimitBytes <= 0 {
		cfg.BodyLimitBytes = 1 << 20
	}

	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required")
	}
	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "memory" {
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func parseMode(value string) gateway.Mode {
	if strings.ToLower(strings.TrimSpace(value)) == "live" {
		return gateway.ModeLive
	}
	return gateway.ModeSandbox
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(envVars map[string]string) (*Config, error) {
	original := make(map[string]string, len(envVars))
	for key := range envVars {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, envVars[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
