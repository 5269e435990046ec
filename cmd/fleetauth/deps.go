// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/internal/account/memstore"
	"github.com/holomush/fleetauth/internal/account/postgres"
	"github.com/holomush/fleetauth/internal/auth"
	"github.com/holomush/fleetauth/internal/config"
	"github.com/holomush/fleetauth/internal/eventbus"
	"github.com/holomush/fleetauth/internal/logging"
	"github.com/holomush/fleetauth/internal/profile"
	"github.com/holomush/fleetauth/internal/store"
)

// Deps contains injectable dependencies for the subcommands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// OpenStore opens the account repositories.
	// Default: openStore
	OpenStore func(ctx context.Context, cfg *config.Config) (*Repositories, error)

	// LogWriter receives structured logs.
	// Default: os.Stderr
	LogWriter io.Writer
}

func (d *Deps) openStore() func(ctx context.Context, cfg *config.Config) (*Repositories, error) {
	if d.OpenStore != nil {
		return d.OpenStore
	}
	return openStore
}

func (d *Deps) logWriter() io.Writer {
	if d.LogWriter != nil {
		return d.LogWriter
	}
	return os.Stderr
}

// Repositories are the three account repositories over one backend.
type Repositories struct {
	Accounts account.AccountRepository
	Sessions account.SessionRepository
	Legacy   account.LegacyRepository
	// Close releases the backend. It may be nil.
	Close func()
}

func openStore(ctx context.Context, cfg *config.Config) (*Repositories, error) {
	if cfg.Store == config.StoreMemory {
		mem := memstore.New()
		return &Repositories{Accounts: mem.Accounts(), Sessions: mem.Sessions(), Legacy: mem.Legacy()}, nil
	}

	pool, err := store.Open(ctx, cfg.Database.URL, store.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	pg, err := postgres.New(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Repositories{
		Accounts: pg.Accounts(),
		Sessions: pg.Sessions(),
		Legacy:   pg.Legacy(),
		Close:    pool.Close,
	}, nil
}

// runtime is the service graph shared by serve and the account commands.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     eventbus.Bus
	auth    *auth.Service
	profile *profile.Service
	closers []func() error
}

// newRuntime wires storage, the event bus and the services for cfg. With
// redis.addr set, fleet events reach every other server on the channel.
func newRuntime(ctx context.Context, cfg *config.Config, deps *Deps) (rt *runtime, err error) {
	logger, err := logging.New(logging.Options{
		Service: "fleetauth",
		Version: version,
		Server:  cfg.Server.Name,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  deps.logWriter(),
	})
	if err != nil {
		return nil, err
	}

	rt = &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	repos, err := deps.openStore()(ctx, cfg)
	if err != nil {
		return rt, oops.Code("STARTUP_FAILED").With("operation", "open store").With("store", cfg.Store).Wrap(err)
	}
	if repos.Close != nil {
		rt.closers = append(rt.closers, func() error { repos.Close(); return nil })
	}

	local := eventbus.NewLocalBus(eventbus.WithLogger(logger))
	rt.closers = append(rt.closers, local.Close)
	rt.bus = local

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, client.Close)

		fleet, err := eventbus.NewRedisBus(client, local, eventbus.RedisOptions{
			Channel: cfg.Redis.Channel,
			Origin:  busOrigin(cfg.Server.Name),
			Logger:  logger,
		})
		if err != nil {
			return rt, err
		}
		if err := fleet.Start(ctx); err != nil {
			return rt, oops.Code("STARTUP_FAILED").With("operation", "start fleet bus").With("redis", cfg.Redis.Addr).Wrap(err)
		}
		rt.closers = append(rt.closers, fleet.Close)
		rt.bus = fleet
	}

	hasher, err := auth.NewHasher(cfg.HashParams())
	if err != nil {
		return rt, err
	}
	usernameReqs, err := cfg.UsernameRequirements()
	if err != nil {
		return rt, err
	}
	rt.auth, err = auth.NewService(repos.Accounts, repos.Sessions, repos.Legacy, hasher, rt.bus, auth.Options{
		ServerName:           cfg.Server.Name,
		SessionValidity:      cfg.Session.Validity,
		PasswordRequirements: cfg.PasswordRequirements(),
		UsernameRequirements: usernameReqs,
		Logger:               logger,
	})
	if err != nil {
		return rt, err
	}
	rt.profile, err = profile.NewService(repos.Accounts, rt.bus, logger)
	if err != nil {
		return rt, err
	}
	return rt, nil
}

// busOrigin is unique per process even when a server restarts under the same
// name while its previous messages are still in flight.
func busOrigin(server string) string {
	return server + "/" + ulid.Make().String()
}

// Close releases everything newRuntime opened, newest first.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
