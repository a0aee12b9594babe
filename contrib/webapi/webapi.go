// Package webapi serves the operational HTTP endpoints of a shardgate router:
// metrics, health, statistics and the installed topology.
//
// # Usage
//
//	collector := vm.New()
//	router, _ := shardgate.NewFromConfig(cfg, shardgate.WithMetrics(collector))
//
//	srv := &http.Server{
//	    Addr:    ":9091",
//	    Handler: webapi.NewHandler(router, webapi.WithMetricsHandler(collector.Handler)),
//	}
package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/arloliu/shardgate"
	"github.com/arloliu/shardgate/internal/logging"
	"github.com/arloliu/shardgate/types"
)

// Router is the part of *shardgate.Router the endpoints read from.
type Router interface {
	Health(ctx context.Context) shardgate.HealthReport
	Stats() types.QueryStatistics
	Layout() types.Layout
}

var _ Router = (*shardgate.Router)(nil)

type handlerConfig struct {
	metrics       http.HandlerFunc
	healthTimeout time.Duration
	logger        types.Logger
}

// Option configures the handler.
type Option func(*handlerConfig)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.HandlerFunc) Option {
	return func(c *handlerConfig) {
		c.metrics = h
	}
}

// WithHealthTimeout bounds the pings done by /health. Default: 5 seconds.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *handlerConfig) {
		if d > 0 {
			c.healthTimeout = d
		}
	}
}

// WithLogger sets the logger for response write failures.
func WithLogger(l types.Logger) Option {
	return func(c *handlerConfig) {
		c.logger = l
	}
}

type server struct {
	router Router
	config handlerConfig
}

// NewHandler returns the endpoint mux:
//
//	GET /health    HealthReport as JSON, 503 when a node is unhealthy
//	GET /stats     QueryStatistics as JSON
//	GET /topology  installed Layout as JSON, passwords removed
//	GET /metrics   the metrics handler, when configured
func NewHandler(router Router, opts ...Option) http.Handler {
	config := handlerConfig{healthTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&config)
	}
	config.logger = logging.OrNop(config.logger)

	s := &server{router: router, config: config}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/topology", s.handleTopology).Methods(http.MethodGet)
	if config.metrics != nil {
		r.HandleFunc("/metrics", config.metrics).Methods(http.MethodGet)
	}

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.healthTimeout)
	defer cancel()

	report := s.router.Health(ctx)
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, report)
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Stats())
}

// nodeView is a NodeDescriptor without credentials.
type nodeView struct {
	Host     string         `json:"host"`
	Port     int            `json:"port"`
	Database string         `json:"database,omitempty"`
	Role     types.NodeRole `json:"role"`
	ShardID  *int           `json:"shard_id,omitempty"`
	Weight   int            `json:"weight,omitempty"`
}

type layoutView struct {
	Coordinator nodeView   `json:"coordinator"`
	Workers     []nodeView `json:"workers"`
	Replicas    []nodeView `json:"replicas"`
}

func viewOf(n types.NodeDescriptor) nodeView {
	return nodeView{
		Host:     n.Host,
		Port:     n.Port,
		Database: n.Database,
		Role:     n.Role,
		ShardID:  n.ShardID,
		Weight:   n.Weight,
	}
}

func viewsOf(nodes []types.NodeDescriptor) []nodeView {
	out := make([]nodeView, len(nodes))
	for i, n := range nodes {
		out[i] = viewOf(n)
	}

	return out
}

func (s *server) handleTopology(w http.ResponseWriter, _ *http.Request) {
	layout := s.router.Layout()
	s.writeJSON(w, http.StatusOK, layoutView{
		Coordinator: viewOf(layout.Coordinator),
		Workers:     viewsOf(layout.Workers),
		Replicas:    viewsOf(layout.Replicas),
	})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.config.logger.Debug("failed to write response", "error", err)
	}
}
