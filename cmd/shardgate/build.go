package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arloliu/shardgate"
	"github.com/arloliu/shardgate/config"
	"github.com/arloliu/shardgate/contrib/cache/rediscache"
	"github.com/arloliu/shardgate/contrib/logging/zaplog"
	"github.com/arloliu/shardgate/contrib/metrics/vm"
	"github.com/arloliu/shardgate/topology"
	"github.com/arloliu/shardgate/types"
)

// stack is a router with everything it was built from.
type stack struct {
	router    *shardgate.Router
	monitor   *topology.Monitor
	collector *vm.Collector
	logger    *zaplog.Logger

	closers []func() error
}

func (s *stack) Close() error {
	errs := []error{s.router.Close()}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}

	return errors.Join(errs...)
}

// buildStack wires the router with zap logging, VictoriaMetrics metrics, the
// control plane and NATS member sources, and the redis cache when configured.
func buildStack(ctx context.Context, cfg *config.Config, z *zap.Logger) (*stack, error) {
	s := &stack{
		collector: vm.New(),
		logger:    zaplog.New(z),
	}

	opts := []shardgate.Option{
		shardgate.WithLogger(s.logger.Named("router")),
		shardgate.WithMetrics(s.collector),
		shardgate.WithStatsSink(shardgate.StatsSinkFunc(func(_ context.Context, st types.QueryStatistics) error {
			z.Info("query statistics",
				zap.Uint64("total", st.Total),
				zap.Uint64("reads", st.Reads),
				zap.Uint64("writes", st.Writes),
				zap.Uint64("errors", st.Errors),
				zap.Uint64("retries", st.Retries),
				zap.Uint64("failovers", st.Failovers),
				zap.Uint64("topology_refreshes", st.TopologyRefreshes),
			)
			return nil
		})),
	}

	sources := topology.HTTPSources(cfg.Topology.Endpoints)

	if cfg.Topology.NATS.URL != "" {
		src, closeNATS, err := natsSource(ctx, cfg.Topology.NATS)
		if err != nil {
			s.closeAll()
			return nil, err
		}
		s.closers = append(s.closers, closeNATS)
		sources = append(sources, src)
	}

	if len(sources) > 0 {
		monitor, err := topology.NewMonitor(sources,
			topology.WithHealthCheckInterval(cfg.Topology.HealthCheckInterval),
			topology.WithRequestTimeout(cfg.Topology.RequestTimeout),
			topology.WithNodeTemplate(topology.TemplateFrom(cfg.Coordinator)),
			topology.WithLogger(s.logger.Named("topology")),
			topology.WithMetrics(s.collector),
		)
		if err != nil {
			s.closeAll()
			return nil, err
		}
		s.monitor = monitor
		opts = append(opts, shardgate.WithMonitor(monitor))
	}

	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		s.closers = append(s.closers, client.Close)
		opts = append(opts, shardgate.WithCache(rediscache.New(client, rediscache.WithPrefix(cfg.Cache.Prefix))))
	}

	router, err := shardgate.NewFromConfig(cfg, opts...)
	if err != nil {
		s.closeAll()
		return nil, err
	}
	s.router = router

	return s, nil
}

func (s *stack) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// natsSource connects to the NATS KV bucket holding the member list.
func natsSource(ctx context.Context, cfg config.NATSConfig) (*topology.NATS, func() error, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("shardgate"))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("opening bucket %q: %w", cfg.Bucket, err)
	}

	var opts []topology.NATSOption
	if cfg.Key != "" {
		opts = append(opts, topology.WithKey(cfg.Key))
	}
	src, err := topology.NewNATS(kv, opts...)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return src, func() error {
		err := src.Close()
		nc.Close()
		return err
	}, nil
}
