package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the call bridge service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// PublicDomain is the externally reachable host used to build the
	// wss:// media-stream URL handed to the telephony platform.
	PublicDomain string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioAPIBaseURL string

	OpenAIAPIKey        string
	RealtimeURL         string
	RealtimeVoice       string
	RealtimeTemperature float64

	// SessionSettleDelay is how long to wait after the realtime socket
	// opens before sending session configuration, so the configuration
	// does not race the connection's own readiness handshake.
	SessionSettleDelay time.Duration

	AnalyzerURL string

	QueuePollInterval time.Duration
	CallTimeout       time.Duration

	DatabaseURL string
	RedisAddr   string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "hermes"),
		AllowAnyOrigin:      false,
		PublicDomain:        normalizeDomain(os.Getenv("DOMAIN")),
		TwilioAccountSID:    envTrimmed("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     envTrimmed("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:    envTrimmed("PHONE_NUMBER_FROM"),
		TwilioAPIBaseURL:    envOrDefault("TWILIO_API_BASE_URL", "https://api.twilio.com"),
		OpenAIAPIKey:        envTrimmed("OPENAI_API_KEY"),
		RealtimeURL:         envOrDefault("REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"),
		RealtimeVoice:       envOrDefault("REALTIME_VOICE", "alloy"),
		RealtimeTemperature: 0.7,
		SessionSettleDelay:  time.Second,
		AnalyzerURL:         envTrimmed("ANALYZER_URL"),
		QueuePollInterval:   5 * time.Second,
		CallTimeout:         5 * time.Minute,
		DatabaseURL:         envTrimmed("DATABASE_URL"),
		RedisAddr:           envTrimmed("REDIS_ADDR"),
		ShutdownTimeout:     15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSettleDelay, err = durationFromEnv("REALTIME_SETTLE_DELAY", cfg.SessionSettleDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.QueuePollInterval, err = durationFromEnv("QUEUE_POLL_INTERVAL", cfg.QueuePollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CallTimeout, err = durationFromEnv("QUEUE_CALL_TIMEOUT", cfg.CallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeTemperature, err = floatFromEnv("REALTIME_TEMPERATURE", cfg.RealtimeTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionSettleDelay < 0 {
		return Config{}, fmt.Errorf("REALTIME_SETTLE_DELAY must not be negative")
	}
	if cfg.QueuePollInterval < time.Second {
		return Config{}, fmt.Errorf("QUEUE_POLL_INTERVAL must be at least 1s")
	}
	if cfg.CallTimeout <= cfg.QueuePollInterval {
		return Config{}, fmt.Errorf("QUEUE_CALL_TIMEOUT must exceed QUEUE_POLL_INTERVAL")
	}
	if cfg.RealtimeTemperature < 0 || cfg.RealtimeTemperature > 2 {
		return Config{}, fmt.Errorf("REALTIME_TEMPERATURE must be in [0, 2]")
	}

	return cfg, nil
}

// normalizeDomain strips any scheme prefix and trailing slashes so the
// value can be embedded directly into a wss:// URL.
func normalizeDomain(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.Index(v, "://"); i >= 0 {
		v = v[i+3:]
	}
	return strings.TrimRight(v, "/")
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
