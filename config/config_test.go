package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/shardgate/config"
	"github.com/arloliu/shardgate/types"
)

const sampleYAML = `
coordinator:
  host: pg-coord
  port: 5432
  database: app
  user: router
  max_conns: 20
  session_params:
    statement_timeout: 5s
workers:
  - {host: pg-w0, port: 5432, shard_id: 0}
  - {host: pg-w1, port: 5433, shard_id: 1, tls: {mode: require}}
replicas:
  - {host: pg-r0, port: 5432, weight: 2}
retry:
  max_retries: 5
  initial_backoff: 200ms
topology:
  endpoints: ["pg1:8008", "pg2:8008"]
failover:
  timeout: 20s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shardgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := config.LoadFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	require.Equal(t, "pg-coord", cfg.Coordinator.Host)
	require.Equal(t, 20, cfg.Coordinator.MaxConns)
	require.Equal(t, map[string]string{"statement_timeout": "5s"}, cfg.Coordinator.SessionParams)

	require.Len(t, cfg.Workers, 2)
	require.Equal(t, 1, cfg.Workers[1].ShardIDOr(-1))
	require.Equal(t, types.TLSRequire, cfg.Workers[1].TLS.Mode)
	require.Equal(t, 2, cfg.Replicas[0].Weight)

	require.Equal(t, 5, cfg.Retry.MaxRetries)
	require.Equal(t, 200*time.Millisecond, cfg.Retry.InitialBackoff)
	require.Equal(t, types.DefaultRetryConfig().MaxBackoff, cfg.Retry.MaxBackoff, "unset keys keep defaults")
	require.Equal(t, []string{"pg1:8008", "pg2:8008"}, cfg.Topology.Endpoints)
	require.Equal(t, 20*time.Second, cfg.Failover.Timeout)
	require.Equal(t, time.Second, cfg.Failover.PollInterval)

	layout := cfg.Layout()
	require.Len(t, layout.Nodes(), 4)
}

func TestLoadFileEnvironmentOverride(t *testing.T) {
	t.Setenv("SHARDGATE_RETRY_MAX_RETRIES", "7")
	t.Setenv("SHARDGATE_FAILOVER_POLL_INTERVAL", "250ms")

	cfg, err := config.LoadFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Retry.MaxRetries)
	require.Equal(t, 250*time.Millisecond, cfg.Failover.PollInterval)
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	t.Setenv("SHARDGATE_COORDINATOR_HOST", "pg-env")
	t.Setenv("SHARDGATE_COORDINATOR_PORT", "6432")

	cfg, err := config.Load(config.NewViper())
	require.NoError(t, err)
	require.Equal(t, "pg-env", cfg.Coordinator.Host)
	require.Equal(t, 6432, cfg.Coordinator.Port)
	require.Empty(t, cfg.Workers)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "config", cfgErr.Field)

	_, err = config.LoadFile(writeConfig(t, "coordinator:\n  port: 5432\n"))
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "coordinator.host", cfgErr.Field)
}

func TestLoad(t *testing.T) {
	v := viper.New()
	v.Set("coordinator", map[string]any{"host": "c", "port": 5432})
	v.Set("retry.max_retries", 0)

	_, err := config.Load(v)
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "retry.max_retries", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.Default()
		cfg.Coordinator = types.NodeDescriptor{Host: "c", Port: 5432}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"acquire timeout", func(c *config.Config) { c.Pool.AcquireTimeout = 0 }, "pool.acquire_timeout"},
		{"failover timeout", func(c *config.Config) { c.Failover.Timeout = -time.Second }, "failover.timeout"},
		{"nats without bucket", func(c *config.Config) { c.Topology.NATS.URL = "nats://localhost:4222" }, "topology.nats.bucket"},
		{"negative cache ttl", func(c *config.Config) { c.Cache.TTL = -1 }, "cache.ttl"},
		{"backoff order", func(c *config.Config) { c.Retry.MaxBackoff = time.Millisecond }, "retry.max_backoff"},
		{"multiplier", func(c *config.Config) { c.Retry.Multiplier = 0.5 }, "retry.multiplier"},
		{"unknown role", func(c *config.Config) { c.Coordinator.Role = "leader" }, "coordinator.role"},
		{"unknown tls mode", func(c *config.Config) { c.Coordinator.TLS.Mode = "always" }, "coordinator.tls.mode"},
		{"negative shard", func(c *config.Config) {
			c.Workers = []types.NodeDescriptor{{Host: "w", Port: 1, ShardID: types.IntPtr(-1)}}
		}, "workers[0].shard_id"},
		{"duplicate replica", func(c *config.Config) {
			c.Replicas = []types.NodeDescriptor{{Host: "r", Port: 1}, {Host: "r", Port: 1}}
		}, "replicas[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}

			var cfgErr *types.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			require.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
