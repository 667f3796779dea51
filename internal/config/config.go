package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen        = ":8080"
	defaultHealthPath        = "/healthz"
	defaultReadyPath         = "/readyz"
	defaultMetricsPath       = "/metrics"
	defaultMaxBodyBytes      = 1 << 20
	defaultNATSURL           = "nats://127.0.0.1:4222"
	defaultNATSSubject       = "fleetalert.alerts"
	defaultNATSStream        = "FLEETALERT_ALERTS"
	defaultNATSConsumer      = "fleetalert-ingest"
	defaultNATSGroup         = "fleetalert-workers"
	defaultNATSAckWaitSec    = 30
	defaultNATSNackDelayMS   = 1000
	defaultNATSMaxDeliver    = -1
	defaultNATSMaxAckPending = 2048
	defaultRulesPath         = "rules.json"
	defaultRuleReloadSec     = 300
	defaultSweepIntervalSec  = 300
	defaultSweepBatchSize    = 100
	defaultRetentionDays     = 90
	defaultRetentionCheckSec = 86400
	defaultNotifyTimeoutSec  = 10
	defaultRetryInitialMS    = 500
	defaultRetryMaxMS        = 10000
	defaultRetryMaxAttempts  = 3

	// StoreBackendMemory keeps all state in process memory.
	StoreBackendMemory = "memory"
	// StoreBackendPostgres persists state in PostgreSQL.
	StoreBackendPostgres = "postgres"
)

// Config holds service runtime settings.
// Params: TOML sections decoded from one config file.
// Returns: validated runtime configuration.
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	Log       LogConfig       `toml:"log"`
	HTTP      HTTPConfig      `toml:"http"`
	Ingest    IngestConfig    `toml:"ingest"`
	Store     StoreConfig     `toml:"store"`
	Rules     RulesConfig     `toml:"rules"`
	AutoClose AutoCloseConfig `toml:"auto_close"`
	Retention RetentionConfig `toml:"retention"`
	Notify    NotifyConfig    `toml:"notify"`
}

// ServiceConfig contains process-level settings.
// Params: service name.
// Returns: service identity defaults.
type ServiceConfig struct {
	Name string `toml:"name"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: enable flag, level, format, and file path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// HTTPConfig configures the HTTP API endpoint.
// Params: listen address, probe paths, and body size limit.
// Returns: HTTP surface behavior.
type HTTPConfig struct {
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MetricsPath  string `toml:"metrics_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// IngestConfig defines inbound event interfaces beyond the HTTP API.
// Params: embedded NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	NATS NATSIngestConfig `toml:"nats"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection, routing keys, and ack/redelivery policy.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StoreConfig selects the persistence backend.
// Params: backend name and Postgres DSN.
// Returns: store construction options.
type StoreConfig struct {
	Backend string `toml:"backend"`
	DSN     string `toml:"dsn"`
}

// RulesConfig locates the rule snapshot resource.
// Params: file path and reload controls.
// Returns: rule source options.
type RulesConfig struct {
	Path              string `toml:"path"`
	ReloadEnabled     bool   `toml:"reload_enabled"`
	ReloadIntervalSec int    `toml:"reload_interval_sec"`
}

// AutoCloseConfig controls the batch auto-close sweep.
// Params: enable flag, tick interval, and batch size.
// Returns: sweep behavior.
type AutoCloseConfig struct {
	Enabled     bool `toml:"enabled"`
	IntervalSec int  `toml:"interval_sec"`
	BatchSize   int  `toml:"batch_size"`
}

// RetentionConfig controls the data retention sweep.
// Params: enable flag, retention period, and check interval.
// Returns: retention behavior.
type RetentionConfig struct {
	Enabled     bool `toml:"enabled"`
	Days        int  `toml:"days"`
	IntervalSec int  `toml:"interval_sec"`
}

// NotifyConfig defines outbound notification channels.
// Params: per-channel transport settings.
// Returns: notification controls.
type NotifyConfig struct {
	Telegram TelegramNotifier `toml:"telegram"`
	Webhook  WebhookNotifier  `toml:"webhook"`
}

// NotifyRetry configures outbound delivery retries.
// Params: retry toggle, backoff strategy, and attempt limits.
// Returns: retry policy for notifications.
type NotifyRetry struct {
	Enabled     bool   `toml:"enabled"`
	Backoff     string `toml:"backoff"`
	InitialMS   int    `toml:"initial_ms"`
	MaxMS       int    `toml:"max_ms"`
	MaxAttempts int    `toml:"max_attempts"`
}

// TelegramNotifier defines Telegram channel settings.
// Params: enabled flag, bot token, chat id, API base, and retry policy.
// Returns: Telegram sender configuration.
type TelegramNotifier struct {
	Enabled  bool        `toml:"enabled"`
	BotToken string      `toml:"bot_token"`
	ChatID   string      `toml:"chat_id"`
	APIBase  string      `toml:"api_base"`
	Retry    NotifyRetry `toml:"retry"`
}

// WebhookNotifier defines a generic outbound HTTP endpoint.
// Params: URL, method, timeout, optional static headers, and retry policy.
// Returns: webhook sender configuration.
type WebhookNotifier struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	TimeoutSec int               `toml:"timeout_sec"`
	Headers    map[string]string `toml:"headers"`
	Retry      NotifyRetry       `toml:"retry"`
}

// Load reads and validates configuration from one TOML file.
// Params: config file path.
// Returns: validated config or load/validation error.
func Load(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config file %q: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with runtime defaults.
// Params: decoded config.
// Returns: defaults applied in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "fleetalert"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	applySinkDefaults(&cfg.Log.Console, "line")
	applySinkDefaults(&cfg.Log.File, "json")

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = defaultHTTPListen
	}
	if cfg.HTTP.HealthPath == "" {
		cfg.HTTP.HealthPath = defaultHealthPath
	}
	if cfg.HTTP.ReadyPath == "" {
		cfg.HTTP.ReadyPath = defaultReadyPath
	}
	if cfg.HTTP.MetricsPath == "" {
		cfg.HTTP.MetricsPath = defaultMetricsPath
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	nats := &cfg.Ingest.NATS
	if len(nats.URL) == 0 {
		nats.URL = []string{defaultNATSURL}
	}
	if nats.Subject == "" {
		nats.Subject = defaultNATSSubject
	}
	if nats.Stream == "" {
		nats.Stream = defaultNATSStream
	}
	if nats.ConsumerName == "" {
		nats.ConsumerName = defaultNATSConsumer
	}
	if nats.DeliverGroup == "" {
		nats.DeliverGroup = defaultNATSGroup
	}
	if nats.AckWaitSec <= 0 {
		nats.AckWaitSec = defaultNATSAckWaitSec
	}
	if nats.NackDelayMS <= 0 {
		nats.NackDelayMS = defaultNATSNackDelayMS
	}
	if nats.MaxDeliver == 0 {
		nats.MaxDeliver = defaultNATSMaxDeliver
	}
	if nats.MaxAckPending <= 0 {
		nats.MaxAckPending = defaultNATSMaxAckPending
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendMemory
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))

	if cfg.Rules.Path == "" {
		cfg.Rules.Path = defaultRulesPath
	}
	if cfg.Rules.ReloadIntervalSec <= 0 {
		cfg.Rules.ReloadIntervalSec = defaultRuleReloadSec
	}

	if cfg.AutoClose.IntervalSec <= 0 {
		cfg.AutoClose.IntervalSec = defaultSweepIntervalSec
	}
	if cfg.AutoClose.BatchSize <= 0 {
		cfg.AutoClose.BatchSize = defaultSweepBatchSize
	}

	if cfg.Retention.Days <= 0 {
		cfg.Retention.Days = defaultRetentionDays
	}
	if cfg.Retention.IntervalSec <= 0 {
		cfg.Retention.IntervalSec = defaultRetentionCheckSec
	}

	applyRetryDefaults(&cfg.Notify.Telegram.Retry)
	applyRetryDefaults(&cfg.Notify.Webhook.Retry)
	if cfg.Notify.Webhook.Method == "" {
		cfg.Notify.Webhook.Method = "POST"
	}
	if cfg.Notify.Webhook.TimeoutSec <= 0 {
		cfg.Notify.Webhook.TimeoutSec = defaultNotifyTimeoutSec
	}
}

// applySinkDefaults normalizes one log sink.
// Params: sink and default format.
// Returns: defaults applied in place.
func applySinkDefaults(sink *LogSinkConfig, format string) {
	if sink.Level == "" {
		sink.Level = "info"
	}
	if sink.Format == "" {
		sink.Format = format
	}
}

// applyRetryDefaults normalizes one retry policy.
// Params: retry policy.
// Returns: defaults applied in place.
func applyRetryDefaults(retry *NotifyRetry) {
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = defaultRetryInitialMS
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = defaultRetryMaxMS
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultRetryMaxAttempts
	}
}

// Validate checks config invariants after defaults.
// Params: config snapshot.
// Returns: first validation error.
func Validate(cfg Config) error {
	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendPostgres:
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return errors.New("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", cfg.Store.Backend)
	}

	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when the file sink is enabled")
	}

	if cfg.Notify.Telegram.Enabled {
		if strings.TrimSpace(cfg.Notify.Telegram.BotToken) == "" {
			return errors.New("notify.telegram.bot_token is required when telegram is enabled")
		}
		if strings.TrimSpace(cfg.Notify.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when telegram is enabled")
		}
	}
	if cfg.Notify.Webhook.Enabled && strings.TrimSpace(cfg.Notify.Webhook.URL) == "" {
		return errors.New("notify.webhook.url is required when webhook is enabled")
	}
	return nil
}
