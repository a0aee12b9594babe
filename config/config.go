// Package config loads router configuration from key/value sources.
//
// Files (YAML, TOML, JSON) and SHARDGATE_-prefixed environment variables are
// read through viper. Nested keys map to environment variables by replacing
// dots with underscores, so retry.max_retries is SHARDGATE_RETRY_MAX_RETRIES.
//
// Example file:
//
//	coordinator:
//	  host: pg-coord
//	  port: 5432
//	  database: app
//	  user: router
//	  max_conns: 20
//	workers:
//	  - {host: pg-w0, port: 5432, shard_id: 0}
//	  - {host: pg-w1, port: 5432, shard_id: 1}
//	retry:
//	  max_retries: 5
//	  initial_backoff: 200ms
//	topology:
//	  endpoints: ["pg1:8008", "pg2:8008"]
//	failover:
//	  timeout: 20s
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arloliu/shardgate/types"
)

// EnvPrefix is the prefix of environment variables read by LoadFile.
const EnvPrefix = "SHARDGATE"

// Config is the full router configuration.
type Config struct {
	Coordinator types.NodeDescriptor   `mapstructure:"coordinator"`
	Workers     []types.NodeDescriptor `mapstructure:"workers"`
	Replicas    []types.NodeDescriptor `mapstructure:"replicas"`

	Retry    types.RetryConfig `mapstructure:"retry"`
	Pool     PoolConfig        `mapstructure:"pool"`
	Topology TopologyConfig    `mapstructure:"topology"`
	Failover FailoverConfig    `mapstructure:"failover"`
	Cache    CacheConfig       `mapstructure:"cache"`
}

// PoolConfig holds settings shared by every node pool.
type PoolConfig struct {
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// TopologyConfig configures the HA control plane sources.
type TopologyConfig struct {
	// Endpoints are control plane host:port pairs queried in order.
	Endpoints []string `mapstructure:"endpoints"`

	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`

	NATS NATSConfig `mapstructure:"nats"`
}

// NATSConfig configures the optional NATS KV member list source.
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Bucket string `mapstructure:"bucket"`
	Key    string `mapstructure:"key"`
}

// FailoverConfig configures the failover coordinator.
type FailoverConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// CacheConfig configures the optional redis result cache.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Default returns a Config with every default filled in and no nodes.
func Default() *Config {
	return &Config{
		Retry: types.DefaultRetryConfig(),
		Pool: PoolConfig{
			AcquireTimeout: 5 * time.Second,
			ConnectTimeout: 5 * time.Second,
		},
		Topology: TopologyConfig{
			HealthCheckInterval: 10 * time.Second,
			RequestTimeout:      2 * time.Second,
		},
		Failover: FailoverConfig{
			Timeout:      30 * time.Second,
			PollInterval: time.Second,
		},
		Cache: CacheConfig{
			Prefix: "shardgate:",
			TTL:    time.Minute,
		},
	}
}

// Layout returns the node layout described by c.
func (c *Config) Layout() types.Layout {
	return types.Layout{
		Coordinator: c.Coordinator,
		Workers:     append([]types.NodeDescriptor(nil), c.Workers...),
		Replicas:    append([]types.NodeDescriptor(nil), c.Replicas...),
	}
}

// Validate checks the layout, the retry policy and every timeout.
//
// Returns:
//   - error: *types.ConfigurationError naming the first invalid field
func (c *Config) Validate() error {
	if err := ValidateLayout(c.Layout()); err != nil {
		return err
	}
	if err := ValidateRetry(c.Retry); err != nil {
		return err
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"pool.acquire_timeout", c.Pool.AcquireTimeout},
		{"pool.connect_timeout", c.Pool.ConnectTimeout},
		{"topology.health_check_interval", c.Topology.HealthCheckInterval},
		{"topology.request_timeout", c.Topology.RequestTimeout},
		{"failover.timeout", c.Failover.Timeout},
		{"failover.poll_interval", c.Failover.PollInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return &types.ConfigurationError{Field: d.field, Reason: "must be positive"}
		}
	}

	if c.Topology.NATS.URL != "" && c.Topology.NATS.Bucket == "" {
		return &types.ConfigurationError{Field: "topology.nats.bucket", Reason: "required when topology.nats.url is set"}
	}
	if c.Cache.TTL < 0 {
		return &types.ConfigurationError{Field: "cache.ttl", Reason: "must not be negative"}
	}

	return nil
}

// Load decodes and validates the configuration held by v. Keys missing from
// v keep their Default values.
//
// Returns:
//   - *Config: The validated configuration
//   - error: *types.ConfigurationError on a decoding or validation failure
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &types.ConfigurationError{Field: "config", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile reads path and overlays SHARDGATE_* environment variables.
//
// Parameters:
//   - path: Configuration file; the format is taken from the extension
//
// Returns:
//   - *Config: The validated configuration
//   - error: *types.ConfigurationError when the file cannot be read or is invalid
func LoadFile(path string) (*Config, error) {
	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, &types.ConfigurationError{Field: "config", Reason: err.Error()}
	}

	return Load(v)
}

// NewViper returns a viper instance bound to SHARDGATE_* environment
// variables with every scalar default registered, so environment variables
// alone can supply a configuration.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("coordinator.host", "")
	v.SetDefault("coordinator.port", 5432)
	v.SetDefault("coordinator.database", "")
	v.SetDefault("coordinator.user", "")
	v.SetDefault("coordinator.password", "")
	v.SetDefault("coordinator.max_conns", 0)
	v.SetDefault("coordinator.min_conns", 0)
	v.SetDefault("retry.max_retries", def.Retry.MaxRetries)
	v.SetDefault("retry.initial_backoff", def.Retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", def.Retry.MaxBackoff)
	v.SetDefault("retry.multiplier", def.Retry.Multiplier)
	v.SetDefault("retry.jitter", def.Retry.Jitter)
	v.SetDefault("pool.acquire_timeout", def.Pool.AcquireTimeout)
	v.SetDefault("pool.connect_timeout", def.Pool.ConnectTimeout)
	v.SetDefault("topology.endpoints", []string{})
	v.SetDefault("topology.health_check_interval", def.Topology.HealthCheckInterval)
	v.SetDefault("topology.request_timeout", def.Topology.RequestTimeout)
	v.SetDefault("topology.nats.url", "")
	v.SetDefault("topology.nats.bucket", "")
	v.SetDefault("topology.nats.key", "")
	v.SetDefault("failover.timeout", def.Failover.Timeout)
	v.SetDefault("failover.poll_interval", def.Failover.PollInterval)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.prefix", def.Cache.Prefix)
	v.SetDefault("cache.ttl", def.Cache.TTL)

	return v
}
