// Package config loads service settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Locations    []string
	PollInterval time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// OpenWeatherMap observation source.
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	OpenWeatherTimeout time.Duration

	// Language-model classifier.
	ClassifierURL     string
	ClassifierModel   string
	ClassifierTimeout time.Duration

	// SMTP alert delivery.
	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPPassword string

	AlertRecipients []string
	NotifyTimeout   time.Duration

	// Retry policy for external capabilities.
	RetryBudget         int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	ApprovalTimeout time.Duration

	// PolicyPath optionally overrides the built-in gating and routing
	// policy with a hot-reloaded YAML file.
	PolicyPath string

	// Audit trail destinations. The JSONL file is always on; the SQLite
	// store and Kafka topic are enabled when configured.
	AuditLogPath    string
	AuditDBPath     string
	KafkaBrokers    []string
	KafkaAuditTopic string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	pollInterval, err := parseDuration("POLL_INTERVAL", "10m")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	weatherTimeout, err := parseDuration("OPENWEATHER_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	classifierTimeout, err := parseDuration("CLASSIFIER_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	notifyTimeout, err := parseDuration("NOTIFY_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	initialBackoff, err := parseDuration("RETRY_INITIAL_BACKOFF", "500ms")
	if err != nil {
		return nil, err
	}
	maxBackoff, err := parseDuration("RETRY_MAX_BACKOFF", "10s")
	if err != nil {
		return nil, err
	}
	approvalTimeout, err := parseDuration("APPROVAL_TIMEOUT", "15m")
	if err != nil {
		return nil, err
	}
	retryBudget, err := parseInt("RETRY_BUDGET", 3)
	if err != nil {
		return nil, err
	}
	smtpPort, err := parseInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Locations:    splitList(os.Getenv("LOCATIONS")),
		PollInterval: pollInterval,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		OpenWeatherAPIKey:  os.Getenv("OPENWEATHER_API_KEY"),
		OpenWeatherBaseURL: os.Getenv("OPENWEATHER_BASE_URL"),
		OpenWeatherTimeout: weatherTimeout,

		ClassifierURL:     envOrDefault("CLASSIFIER_URL", "http://localhost:11434"),
		ClassifierModel:   envOrDefault("CLASSIFIER_MODEL", "llama3.2"),
		ClassifierTimeout: classifierTimeout,

		SMTPHost:     envOrDefault("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:     smtpPort,
		SMTPFrom:     os.Getenv("SMTP_FROM"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),

		AlertRecipients: splitList(os.Getenv("ALERT_RECIPIENTS")),
		NotifyTimeout:   notifyTimeout,

		RetryBudget:         retryBudget,
		RetryInitialBackoff: initialBackoff,
		RetryMaxBackoff:     maxBackoff,

		ApprovalTimeout: approvalTimeout,
		PolicyPath:      os.Getenv("POLICY_PATH"),

		AuditLogPath:    envOrDefault("AUDIT_LOG_PATH", "audit.jsonl"),
		AuditDBPath:     os.Getenv("AUDIT_DB_PATH"),
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaAuditTopic: os.Getenv("KAFKA_AUDIT_TOPIC"),
	}

	if len(cfg.Locations) == 0 {
		return nil, errors.New("LOCATIONS is required")
	}
	if cfg.OpenWeatherAPIKey == "" {
		return nil, errors.New("OPENWEATHER_API_KEY is required")
	}
	if len(cfg.AlertRecipients) == 0 && cfg.PolicyPath == "" {
		return nil, errors.New("ALERT_RECIPIENTS is required when no policy file is set")
	}
	if cfg.RetryBudget < 0 {
		return nil, errors.New("RETRY_BUDGET must not be negative")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaAuditTopic == "" {
		return nil, errors.New("KAFKA_AUDIT_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

// splitList parses a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
