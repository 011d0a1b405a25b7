package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/ford-at-home/storygen/config"
	"github.com/ford-at-home/storygen/health"
	"github.com/ford-at-home/storygen/store"
	"github.com/ford-at-home/storygen/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sweeper and the gRPC health endpoint",
		Long: `serve runs the background services of a storygen deployment until
interrupted:

  - the sweeper, which expires idle sessions and purges records past
    their durability window
  - a gRPC health endpoint reporting each storage tier
  - with --watch, live reload of the log level and encryption key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload --config when it changes")
	return cmd
}

func (a *app) serve(ctx context.Context, watch bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp := telemetry.NewTracerProvider(telemetry.ServiceName, a.logger)
	shutdown := telemetry.Install(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	rt, err := openRuntime(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	sweeper := store.NewSweeper(rt.store,
		store.WithSweepInterval(a.cfg.Sweeper.Interval),
		store.WithSweepTimeout(a.cfg.Sweeper.Timeout),
		store.WithSweepLogger(a.logger),
	)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	monitor := health.NewMonitor(rt.checks(), a.cfg.Health.Interval, a.logger)
	srv := health.NewGRPCServer(monitor)

	lis, err := net.Listen("tcp", a.cfg.Health.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Health.Addr, err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("health server failed: %w", err)
		}
	}()

	if watch && a.configPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, a.configPath, a.logger, func(cfg *config.Config) {
				rt.reload(cfg, a.level)
			})
			if err != nil {
				a.logger.Error("config watch stopped", "error", err)
			}
		}()
	}

	a.logger.Info("storygen services started",
		"health_addr", lis.Addr().String(),
		"backend", a.cfg.Store.Backend,
		"l2", rt.l2 != nil,
		"secure", rt.secure != nil,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.logger.Info("shutting down")
	cancel()
	srv.GracefulStop()
	wg.Wait()
	return runErr
}
