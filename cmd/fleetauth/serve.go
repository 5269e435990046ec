// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/fleetauth/internal/auth"
	"github.com/holomush/fleetauth/internal/eventbus"
	"github.com/holomush/fleetauth/internal/hostapi"
	"github.com/holomush/fleetauth/internal/observability"
	"github.com/holomush/fleetauth/internal/profile"
	"github.com/holomush/fleetauth/internal/scheduler"
	"github.com/holomush/fleetauth/internal/sessioncache"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a fleet server process",
		Long: `Run the authentication services, the session cache and the playtime
achievement tracker for one server of the fleet until interrupted.

Connection hosts report connects, disconnects, logins and logouts through
the host gRPC API on host.addr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, deps)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			rt.logger.Warn("error releasing resources", "error", closeErr)
		}
	}()
	logger := rt.logger

	cache, err := sessioncache.New(rt.auth, sessioncache.WithLogger(logger))
	if err != nil {
		return err
	}
	unbind := cache.Bind(rt.bus)
	defer unbind()

	tracker, err := profile.NewTracker(rt.profile, cache, profile.TrackerOptions{Logger: logger})
	if err != nil {
		return err
	}
	achievements, err := scheduler.NewTask("playtime-achievements", cfg.Achievements.Interval, tracker.CheckAll,
		scheduler.Options{Delay: cfg.Achievements.Interval, Logger: logger})
	if err != nil {
		return err
	}
	if err := achievements.Start(ctx); err != nil {
		return err
	}
	defer achievements.Stop()

	var hostServer *hostapi.Server
	if cfg.Host.Addr != "" {
		hostServer, err = hostapi.NewServer(cache, rt.auth, hostapi.WithTracker(tracker), hostapi.WithLogger(logger))
		if err != nil {
			return err
		}
		hostErrChan, err := hostServer.Start(cfg.Host.Addr)
		if err != nil {
			return oops.Code("STARTUP_FAILED").With("operation", "start host API").Wrap(err)
		}
		defer func() { _ = hostServer.Stop(context.WithoutCancel(ctx)) }()
		go monitorServerErrors(ctx, cancel, logger, hostErrChan, "host")
		cmd.Printf("host API listening on %s\n", hostServer.Addr())
	}

	var ready atomic.Bool
	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		registry := observability.NewRegistry()
		auth.RegisterMetrics(registry)
		eventbus.RegisterMetrics(registry)
		sessioncache.RegisterMetrics(registry)
		hostapi.RegisterMetrics(registry)
		profile.RegisterMetrics(registry)
		scheduler.RegisterMetrics(registry)

		obsServer = observability.NewServer(cfg.Metrics.Addr, registry, ready.Load, logger)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("STARTUP_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, logger, obsErrChan, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Println("fleetauth serving")
	logger.Info("server ready",
		"store", cfg.Store,
		"fleet", cfg.Redis.Addr != "",
		"metrics_addr", cfg.Metrics.Addr,
		"host_addr", cfg.Host.Addr,
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	if hostServer != nil {
		if err := hostServer.Stop(ctx); err != nil {
			logger.Warn("error stopping host API", "error", err)
		}
	}
	achievements.Stop()

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels ctx when a server reports a serve error. It
// returns when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
