package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/shardgate/contrib/webapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the router and its operational web endpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx)
	},
}

func init() {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.String("web-address", ":9091", "the address serving /metrics, /health, /stats and /topology")
	flags.Duration("stats-interval", time.Minute, "how often query statistics are logged, 0 disables")
	serveCmd.Flags().AddFlagSet(flags)

	_ = v.BindPFlags(flags)
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	z, err := newLogger(v)
	if err != nil {
		return err
	}
	defer func() { _ = z.Sync() }()

	s, err := buildStack(ctx, cfg, z)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			z.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	layout := s.router.Layout()
	z.Info("router started",
		zap.String("coordinator", layout.Coordinator.Key()),
		zap.Int("workers", len(layout.Workers)),
		zap.Int("replicas", len(layout.Replicas)),
	)

	srv := &http.Server{
		Addr: v.GetString("web-address"),
		Handler: webapi.NewHandler(s.router,
			webapi.WithMetricsHandler(s.collector.Handler),
			webapi.WithLogger(s.logger.Named("webapi")),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.monitor != nil {
		g.Go(func() error { return ignoreCancel(s.monitor.Run(gctx)) })
		g.Go(func() error { return ignoreCancel(s.router.Follow(gctx)) })
	}

	if interval := v.GetDuration("stats-interval"); interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := s.router.PublishStats(gctx); err != nil {
						z.Warn("publishing statistics failed", zap.Error(err))
					}
				}
			}
		})
	}

	g.Go(func() error {
		z.Info("web endpoints listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
