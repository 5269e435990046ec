// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sessioncache

import (
	"context"

	"github.com/holomush/fleetauth/internal/eventbus"
	"github.com/holomush/fleetauth/pkg/errutil"
)

// Bind subscribes the cache to the events that can change an entry. The
// returned function removes every subscription.
func (c *Cache) Bind(bus eventbus.Bus) func() {
	accountChanged := func(ctx context.Context, event eventbus.Event) {
		c.observe(ctx, event, c.HandleAccountChanged(ctx, event.Account()))
	}

	unsubscribe := []func(){
		bus.Subscribe(eventbus.TypeAccountChanged, accountChanged),
		bus.Subscribe(eventbus.TypeAchievementChanged, accountChanged),
		bus.Subscribe(eventbus.TypeRankChanged, accountChanged),
		bus.Subscribe(eventbus.TypeSessionLogin, c.handleLogin),
		bus.Subscribe(eventbus.TypeSessionLogout, c.handleLogout),
	}
	return func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}
}

func (c *Cache) handleLogin(ctx context.Context, event eventbus.Event) {
	login, ok := event.(eventbus.SessionLogin)
	if !ok {
		return
	}
	c.observe(ctx, event, c.Refresh(ctx, login.Key))
}

func (c *Cache) handleLogout(ctx context.Context, event eventbus.Event) {
	logout, ok := event.(eventbus.SessionLogout)
	if !ok {
		return
	}
	if logout.All {
		c.observe(ctx, event, c.HandleAccountChanged(ctx, logout.AccountID))
		return
	}
	c.observe(ctx, event, c.Refresh(ctx, logout.Key))
}

func (c *Cache) observe(ctx context.Context, event eventbus.Event, err error) {
	if err != nil {
		handled.WithLabelValues(string(event.Type()), "error").Inc()
		errutil.LogErrorContext(ctx, c.logger, "session cache update failed", err,
			"event_type", string(event.Type()),
			"account_id", event.Account(),
		)
		return
	}
	handled.WithLabelValues(string(event.Type()), "ok").Inc()
}
