package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/crimeapps/drc-integration/common/database"
)

type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Logging    LoggingConfig             `mapstructure:"logging"`
	Sequencer  SequencerConfig           `mapstructure:"sequencer"`
	Audit      AuditConfig               `mapstructure:"audit"`
	Redis      RedisConfig               `mapstructure:"redis"`
	NATS       NATSConfig                `mapstructure:"nats"`
	OpenSearch OpenSearchConfig          `mapstructure:"opensearch"`
	Source     SourceConfig              `mapstructure:"source"`
	DRC        DRCConfig                 `mapstructure:"drc"`
	Ack        AckConfig                 `mapstructure:"ack"`
	Scheduler  SchedulerConfig           `mapstructure:"scheduler"`
	Retention  RetentionConfig           `mapstructure:"retention"`
	Categories map[string]CategoryConfig `mapstructure:"categories"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Postgres       database.PostgresConfig `mapstructure:"postgres"`
	MigrationsPath string                  `mapstructure:"migrations_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SequencerConfig selects where batch and trace counters live.
// Backend is "postgres", "redis" or "memory" (tests and local runs only).
// SeedBatchID and SeedTraceID raise the Redis counters at startup, for
// moving off the postgres backend without reissuing old ids.
type SequencerConfig struct {
	Backend     string `mapstructure:"backend"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	SeedBatchID int64  `mapstructure:"seed_batch_id"`
	SeedTraceID int64  `mapstructure:"seed_trace_id"`
}

// Seeded reports whether startup should raise the counters.
func (c SequencerConfig) Seeded() bool {
	return c.SeedBatchID > 0 || c.SeedTraceID > 0
}

// AuditConfig configures the audit store. Backend is "postgres" or "memory".
// Every replica needs a distinct NodeID; -1 derives one from the host name.
type AuditConfig struct {
	Backend string `mapstructure:"backend"`
	NodeID  int64  `mapstructure:"node_id"`
}

// ResolveNodeID returns NodeID, or when it is -1 a node id hashed from
// hostname. Hashed ids can collide; set node_id explicitly when they do.
func (c AuditConfig) ResolveNodeID(hostname string) int64 {
	if c.NodeID >= 0 {
		return c.NodeID
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(hostname))
	return int64(h.Sum32() % 1024)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Token         string        `mapstructure:"token"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	DLQEnabled    bool          `mapstructure:"dlq_enabled"`
}

// OpenSearchConfig configures the envelope archive. A non-empty
// SigningSecret adds an HMAC signature to every archived envelope.
type OpenSearchConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	Index         string `mapstructure:"index"`
	SigningSecret string `mapstructure:"signing_secret"`
}

// SourceConfig points at the case-management system.
type SourceConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	ContributionPath string        `mapstructure:"contribution_path"`
	FDCPath          string        `mapstructure:"fdc_path"`
	Timeout          time.Duration `mapstructure:"timeout"`
	PageSize         int           `mapstructure:"page_size"`
	MaxPages         int           `mapstructure:"max_pages"`
	Retries          int           `mapstructure:"retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
}

// DRCConfig points at the debt recovery company.
type DRCConfig struct {
	BaseURL          string          `mapstructure:"base_url"`
	ContributionPath string          `mapstructure:"contribution_path"`
	FDCPath          string          `mapstructure:"fdc_path"`
	Token            string          `mapstructure:"token"`
	Timeout          time.Duration   `mapstructure:"timeout"`
	MaxAttempts      int             `mapstructure:"max_attempts"`
	RetryDelay       time.Duration   `mapstructure:"retry_delay"`
	DuplicateType    string          `mapstructure:"duplicate_type"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// AckConfig governs inbound acknowledgements. JWTSecret also signs operator
// tokens; when empty the whole HTTP API is unauthenticated.
type AckConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	NATSEnabled bool   `mapstructure:"nats_enabled"`
}

// SchedulerConfig drives periodic runs. A zero Interval disables them.
type SchedulerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Categories []string      `mapstructure:"categories"`
}

// RetentionConfig drives the purge sweep. Zero days keeps rows forever.
type RetentionConfig struct {
	AuditDays int           `mapstructure:"audit_days"`
	ErrorDays int           `mapstructure:"error_days"`
	Interval  time.Duration `mapstructure:"interval"`
}

type CategoryConfig struct {
	Statuses []string `mapstructure:"statuses"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/drc/reconcile")
	}

	// RECONCILE_DRC_BASE_URL, RECONCILE_DATABASE_POSTGRES_HOST, ...
	v.SetEnvPrefix("RECONCILE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "drc")
	v.SetDefault("database.postgres.user", "drc")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "require")
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("sequencer.backend", "postgres")
	v.SetDefault("sequencer.redis_prefix", "drc:seq")
	v.SetDefault("sequencer.seed_batch_id", 0)
	v.SetDefault("sequencer.seed_trace_id", 0)
	v.SetDefault("audit.backend", "postgres")
	v.SetDefault("audit.node_id", -1)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "drc-reconcile")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.dlq_enabled", true)

	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.tls_skip_verify", false)
	v.SetDefault("opensearch.index", "drc-envelopes")
	v.SetDefault("opensearch.signing_secret", "")

	// Keys without a useful default are still registered so env overrides apply.
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.contribution_path", "/contributions")
	v.SetDefault("source.fdc_path", "/fdcs")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.page_size", 100)
	v.SetDefault("source.max_pages", 10000)
	v.SetDefault("source.retries", 3)
	v.SetDefault("source.retry_delay", "500ms")

	v.SetDefault("drc.base_url", "")
	v.SetDefault("drc.token", "")
	v.SetDefault("drc.contribution_path", "/laa/v1/contribution")
	v.SetDefault("drc.fdc_path", "/laa/v1/fdc")
	v.SetDefault("drc.timeout", "30s")
	v.SetDefault("drc.max_attempts", 3)
	v.SetDefault("drc.retry_delay", "1s")
	v.SetDefault("drc.duplicate_type", "urn:drc:problem-type:duplicate-id")
	v.SetDefault("drc.rate_limit.enabled", false)
	v.SetDefault("drc.rate_limit.requests", 50)
	v.SetDefault("drc.rate_limit.window", "1s")

	v.SetDefault("ack.jwt_secret", "")
	v.SetDefault("ack.nats_enabled", false)

	v.SetDefault("scheduler.interval", "0s")
	v.SetDefault("scheduler.categories", []string{"contribution", "fdc"})

	v.SetDefault("retention.audit_days", 0)
	v.SetDefault("retention.error_days", 0)
	v.SetDefault("retention.interval", "24h")
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Sequencer.Backend {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("invalid sequencer.backend %q: must be postgres, redis or memory", c.Sequencer.Backend)
	}
	switch c.Audit.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid audit.backend %q: must be postgres or memory", c.Audit.Backend)
	}
	if c.Source.PageSize <= 0 {
		return fmt.Errorf("source.page_size must be positive, got %d", c.Source.PageSize)
	}
	if c.DRC.MaxAttempts <= 0 {
		return fmt.Errorf("drc.max_attempts must be positive, got %d", c.DRC.MaxAttempts)
	}
	if c.DRC.RateLimit.Enabled && (c.DRC.RateLimit.Requests <= 0 || c.DRC.RateLimit.Window <= 0) {
		return errors.New("drc.rate_limit requires positive requests and window when enabled")
	}
	if c.Audit.NodeID < -1 || c.Audit.NodeID > 1023 {
		return fmt.Errorf("audit.node_id must be -1 or between 0 and 1023, got %d", c.Audit.NodeID)
	}
	if c.Sequencer.Seeded() && c.Sequencer.Backend != "redis" {
		return fmt.Errorf("sequencer.seed_* only applies to the redis backend, not %q", c.Sequencer.Backend)
	}
	if c.Sequencer.SeedBatchID < 0 || c.Sequencer.SeedTraceID < 0 {
		return errors.New("sequencer.seed_batch_id and seed_trace_id must not be negative")
	}
	return nil
}

// Statuses returns the configured eligible statuses for category, or nil
// when the category's defaults apply.
func (c *Config) Statuses(category string) []string {
	if cc, ok := c.Categories[category]; ok && len(cc.Statuses) > 0 {
		return cc.Statuses
	}
	return nil
}

// NeedsPostgres reports whether any backend requires a database pool.
func (c *Config) NeedsPostgres() bool {
	return c.Sequencer.Backend == "postgres" || c.Audit.Backend == "postgres"
}

// NeedsRedis reports whether any component requires a Redis client.
func (c *Config) NeedsRedis() bool {
	return c.Sequencer.Backend == "redis" || c.DRC.RateLimit.Enabled
}
