package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "require", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, "file://migrations", cfg.Database.MigrationsPath)
	assert.Equal(t, "postgres", cfg.Sequencer.Backend)
	assert.False(t, cfg.Sequencer.Seeded())
	assert.Equal(t, int64(-1), cfg.Audit.NodeID)
	assert.Equal(t, 100, cfg.Source.PageSize)
	assert.Equal(t, 3, cfg.Source.Retries)
	assert.Equal(t, 3, cfg.DRC.MaxAttempts)
	assert.Equal(t, time.Second, cfg.DRC.RetryDelay)
	assert.Equal(t, "urn:drc:problem-type:duplicate-id", cfg.DRC.DuplicateType)
	assert.Equal(t, []string{"contribution", "fdc"}, cfg.Scheduler.Categories)
	assert.Zero(t, cfg.Scheduler.Interval)
	assert.Equal(t, "drc-envelopes", cfg.OpenSearch.Index)
	assert.True(t, cfg.NeedsPostgres())
	assert.False(t, cfg.NeedsRedis())
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
server:
  port: 9191
database:
  postgres:
    host: pg.internal
    port: 5433
    database: audit
    user: svc
    password: secret
    sslmode: disable
sequencer:
  backend: redis
source:
  base_url: http://maat.internal/api
  page_size: 3
drc:
  base_url: https://drc.example
  max_attempts: 5
  retry_delay: 250ms
  rate_limit:
    enabled: true
    requests: 10
    window: 2s
categories:
  fdc:
    statuses: [REQUESTED, WAITING]
scheduler:
  interval: 15m
  categories: [fdc]
retention:
  audit_days: 90
  error_days: 30
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "pg.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 5433, cfg.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, "redis", cfg.Sequencer.Backend)
	assert.Equal(t, "http://maat.internal/api", cfg.Source.BaseURL)
	assert.Equal(t, 3, cfg.Source.PageSize)
	assert.Equal(t, 5, cfg.DRC.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.DRC.RetryDelay)
	assert.True(t, cfg.DRC.RateLimit.Enabled)
	assert.Equal(t, 2*time.Second, cfg.DRC.RateLimit.Window)
	assert.Equal(t, []string{"REQUESTED", "WAITING"}, cfg.Statuses("fdc"))
	assert.Nil(t, cfg.Statuses("contribution"))
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"fdc"}, cfg.Scheduler.Categories)
	assert.Equal(t, 90, cfg.Retention.AuditDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RECONCILE_SERVER_PORT", "7070")
	t.Setenv("RECONCILE_DRC_BASE_URL", "https://drc.override")
	t.Setenv("RECONCILE_SEQUENCER_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "https://drc.override", cfg.DRC.BaseURL)
	assert.Equal(t, "memory", cfg.Sequencer.Backend)
}

func TestLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unterminated"), 0o644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad sequencer", func(c *Config) { c.Sequencer.Backend = "etcd" }},
		{"bad audit backend", func(c *Config) { c.Audit.Backend = "sqlite" }},
		{"zero page size", func(c *Config) { c.Source.PageSize = 0 }},
		{"zero attempts", func(c *Config) { c.DRC.MaxAttempts = 0 }},
		{"rate limit without window", func(c *Config) {
			c.DRC.RateLimit.Enabled = true
			c.DRC.RateLimit.Window = 0
		}},
		{"node id out of range", func(c *Config) { c.Audit.NodeID = 2048 }},
		{"node id below derive marker", func(c *Config) { c.Audit.NodeID = -2 }},
		{"seed without redis", func(c *Config) { c.Sequencer.SeedBatchID = 500 }},
		{"negative seed", func(c *Config) {
			c.Sequencer.Backend = "redis"
			c.Sequencer.SeedTraceID = -1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAuditConfig_ResolveNodeID(t *testing.T) {
	explicit := AuditConfig{NodeID: 7}
	assert.Equal(t, int64(7), explicit.ResolveNodeID("reconcile-0"))

	derived := AuditConfig{NodeID: -1}
	a := derived.ResolveNodeID("reconcile-0")
	assert.GreaterOrEqual(t, a, int64(0))
	assert.Less(t, a, int64(1024))
	assert.Equal(t, a, derived.ResolveNodeID("reconcile-0"))
	assert.NotEqual(t, a, derived.ResolveNodeID("reconcile-1"))
}
