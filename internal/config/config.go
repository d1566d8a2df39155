package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const ConfigPathEnvVar = "CONFIG_PATH"

type Config struct {
	Port      string          `koanf:"port"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Service   ServiceConfig   `koanf:"service"`
	Tickets   TicketsConfig   `koanf:"tickets"`
	Stats     StatsConfig     `koanf:"stats"`
	Redis     RedisConfig     `koanf:"redis"`
	NATS      NATSConfig      `koanf:"nats"`
	Notify    NotifyConfig    `koanf:"notify"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LedgerConfig struct {
	// Driver is memory, sqlite or postgres. sqlite keeps the working set
	// in process memory and suits a single-office install; multi-instance
	// deployments use postgres.
	Driver     string `koanf:"driver"`
	DSN        string `koanf:"dsn"`
	SQLitePath string `koanf:"sqlite_path"`
}

type ServiceConfig struct {
	// Timezone decides the local calendar date that ticket numbering resets on.
	Timezone         string `koanf:"timezone"`
	ExternalIDPrefix string `koanf:"external_id_prefix"`
}

type TicketsConfig struct {
	AllocationRetries int `koanf:"allocation_retries"`
	DisplayDoneLimit  int `koanf:"display_done_limit"`
}

type StatsConfig struct {
	// Strategy is recompute or incremental.
	Strategy          string        `koanf:"strategy"`
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
	CacheTTL          time.Duration `koanf:"cache_ttl"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

type NotifyConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	BatchSize    int           `koanf:"batch_size"`
}

type RateLimitConfig struct {
	PerMinute int `koanf:"per_minute"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type TelemetryConfig struct {
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	Insecure     bool   `koanf:"insecure"`
}

func defaultConfig() *Config {
	return &Config{
		Port: "8080",
		Ledger: LedgerConfig{
			Driver:     "memory",
			SQLitePath: "records.db",
		},
		Service: ServiceConfig{
			Timezone:         "Asia/Manila",
			ExternalIDPrefix: "BH",
		},
		Tickets: TicketsConfig{
			AllocationRetries: 5,
			DisplayDoneLimit:  10,
		},
		Stats: StatsConfig{
			Strategy:          "incremental",
			ReconcileInterval: 15 * time.Minute,
			CacheTTL:          30 * time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: "records.changes",
		},
		Notify: NotifyConfig{
			PollInterval: time.Second,
			BatchSize:    200,
		},
		RateLimit: RateLimitConfig{PerMinute: 120},
		Log:       LogConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{ServiceName: "records-service"},
	}
}

var envMappings = map[string]string{
	"port":                        "port",
	"ledger_driver":               "ledger.driver",
	"db_dsn":                      "ledger.dsn",
	"sqlite_path":                 "ledger.sqlite_path",
	"service_timezone":            "service.timezone",
	"external_id_prefix":          "service.external_id_prefix",
	"ticket_allocation_retries":   "tickets.allocation_retries",
	"display_done_limit":          "tickets.display_done_limit",
	"stats_strategy":              "stats.strategy",
	"stats_reconcile_interval":    "stats.reconcile_interval",
	"stats_cache_ttl":             "stats.cache_ttl",
	"redis_url":                   "redis.url",
	"nats_url":                    "nats.url",
	"nats_subject_prefix":         "nats.subject_prefix",
	"notify_poll_interval":        "notify.poll_interval",
	"notify_batch_size":           "notify.batch_size",
	"rate_limit_per_min":          "ratelimit.per_minute",
	"log_level":                   "log.level",
	"log_format":                  "log.format",
	"otel_service_name":           "telemetry.service_name",
	"otel_exporter_otlp_endpoint": "telemetry.otlp_endpoint",
	"otel_exporter_otlp_insecure": "telemetry.insecure",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

// Load layers defaults, the optional YAML file named by CONFIG_PATH and the
// process environment, in that order.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	switch c.Stats.Strategy {
	case "recompute", "incremental":
	default:
		return fmt.Errorf("unknown stats strategy %q", c.Stats.Strategy)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Tickets.AllocationRetries < 1 {
		return fmt.Errorf("tickets.allocation_retries must be at least 1")
	}
	if c.Tickets.DisplayDoneLimit < 0 {
		return fmt.Errorf("tickets.display_done_limit must not be negative")
	}
	if c.Stats.ReconcileInterval <= 0 {
		return fmt.Errorf("stats.reconcile_interval must be positive")
	}
	if c.Notify.PollInterval <= 0 {
		return fmt.Errorf("notify.poll_interval must be positive")
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Service.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Service.Timezone, err)
	}
	return loc, nil
}
