package topology

import (
	"time"

	"github.com/arloliu/shardgate/types"
)

// NodeTemplate holds the connection settings applied to discovered members.
// The control plane only reports host, port and role.
type NodeTemplate struct {
	Database      string            `mapstructure:"database"`
	User          string            `mapstructure:"user"`
	Password      string            `mapstructure:"password"`
	MinConns      int               `mapstructure:"min_conns"`
	MaxConns      int               `mapstructure:"max_conns"`
	Weight        int               `mapstructure:"weight"`
	TLS           types.TLSConfig   `mapstructure:"tls"`
	SessionParams map[string]string `mapstructure:"session_params"`
}

// TemplateFrom copies the connection settings of node into a template.
func TemplateFrom(node types.NodeDescriptor) NodeTemplate {
	return NodeTemplate{
		Database:      node.Database,
		User:          node.User,
		Password:      node.Password,
		MinConns:      node.MinConns,
		MaxConns:      node.MaxConns,
		Weight:        node.Weight,
		TLS:           node.TLS,
		SessionParams: node.SessionParams,
	}
}

// Node builds a descriptor for a discovered member.
func (t NodeTemplate) Node(m Member, role types.NodeRole) types.NodeDescriptor {
	return types.NodeDescriptor{
		Host:          m.Host,
		Port:          m.Port,
		Database:      t.Database,
		User:          t.User,
		Password:      t.Password,
		Role:          role,
		Weight:        t.Weight,
		MinConns:      t.MinConns,
		MaxConns:      t.MaxConns,
		TLS:           t.TLS,
		SessionParams: t.SessionParams,
	}
}

// MonitorConfig holds configuration for the topology monitor.
type MonitorConfig struct {
	// HealthCheckInterval is the minimum time between two refreshes issued
	// by MaybeRefresh, and the period of Run.
	// Default: 10 seconds
	HealthCheckInterval time.Duration

	// RequestTimeout bounds each source query.
	// Default: 2 seconds
	RequestTimeout time.Duration

	// Template is applied to every discovered member.
	Template NodeTemplate

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// DefaultMonitorConfig returns a MonitorConfig with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		HealthCheckInterval: 10 * time.Second,
		RequestTimeout:      2 * time.Second,
	}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*MonitorConfig)

// WithHealthCheckInterval sets the minimum refresh interval.
func WithHealthCheckInterval(d time.Duration) MonitorOption {
	return func(c *MonitorConfig) {
		c.HealthCheckInterval = d
	}
}

// WithRequestTimeout sets the per-source query timeout.
func WithRequestTimeout(d time.Duration) MonitorOption {
	return func(c *MonitorConfig) {
		c.RequestTimeout = d
	}
}

// WithNodeTemplate sets the connection settings applied to discovered members.
func WithNodeTemplate(t NodeTemplate) MonitorOption {
	return func(c *MonitorConfig) {
		c.Template = t
	}
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) MonitorOption {
	return func(c *MonitorConfig) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) MonitorOption {
	return func(c *MonitorConfig) {
		c.Metrics = m
	}
}

// NATSConfig holds configuration for the NATS member source.
type NATSConfig struct {
	// Key is the NATS KV key holding the member list.
	// Default: "shardgate.topology.members"
	Key string

	// PollInterval is the fallback polling interval if watch fails.
	// Default: 5 seconds
	PollInterval time.Duration

	// FetchTimeout bounds each KV read done by the watch loop.
	// Default: 10 seconds
	FetchTimeout time.Duration
}

// DefaultNATSConfig returns a NATSConfig with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Key:          "shardgate.topology.members",
		PollInterval: 5 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

// NATSOption configures a NATS source.
type NATSOption func(*NATSConfig)

// WithKey sets the NATS KV key.
//
// Parameters:
//   - key: The key name (e.g., "db.cluster.members")
//
// Returns:
//   - NATSOption: Configuration option
func WithKey(key string) NATSOption {
	return func(c *NATSConfig) {
		c.Key = key
	}
}

// WithPollInterval sets the fallback polling interval.
//
// If the NATS watch fails or disconnects, the source falls back to
// polling at this interval.
func WithPollInterval(d time.Duration) NATSOption {
	return func(c *NATSConfig) {
		c.PollInterval = d
	}
}

// WithFetchTimeout sets the timeout for KV reads done by the watch loop.
func WithFetchTimeout(d time.Duration) NATSOption {
	return func(c *NATSConfig) {
		c.FetchTimeout = d
	}
}
