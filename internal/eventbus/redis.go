// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default Redis transport settings.
const (
	DefaultChannel = "fleetauth:events"

	defaultRetryInitial = 100 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
	defaultStartRetries = 5
)

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	// Channel is the pub/sub channel shared by the fleet.
	Channel string
	// Origin identifies this process. It must be unique across the fleet.
	Origin string
	Logger *slog.Logger

	RetryInitial time.Duration
	RetryMax     time.Duration
}

// RedisBus delivers ScopeLocal events in-process and ScopeFleet events to
// every process subscribed to the same Redis channel.
//
// Fleet events are delivered locally before they are published, and the echo
// of our own message is skipped by origin. Redis pub/sub is fire-and-forget:
// a process that is disconnected while an event is published misses it until
// the next event for the same account.
type RedisBus struct {
	client  redis.UniversalClient
	local   *LocalBus
	channel string
	origin  string
	logger  *slog.Logger

	retryInitial time.Duration
	retryMax     time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	ps      *redis.PubSub // current subscription, closed by Close
	wg      sync.WaitGroup
}

// NewRedisBus creates a RedisBus on top of local. The caller owns both client
// and local and closes them after Close returns.
func NewRedisBus(client redis.UniversalClient, local *LocalBus, opts RedisOptions) (*RedisBus, error) {
	if client == nil || local == nil {
		return nil, oops.Code("EVENTBUS_INVALID_CONFIG").Errorf("redis client and local bus are required")
	}
	if opts.Origin == "" {
		return nil, oops.Code("EVENTBUS_INVALID_CONFIG").Errorf("origin cannot be empty")
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = defaultRetryInitial
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = defaultRetryMax
	}
	return &RedisBus{
		client:       client,
		local:        local,
		channel:      opts.Channel,
		origin:       opts.Origin,
		logger:       opts.Logger.With("component", "eventbus", "channel", opts.Channel),
		retryInitial: opts.RetryInitial,
		retryMax:     opts.RetryMax,
	}, nil
}

// Start subscribes to the fleet channel and begins relaying remote events to
// local handlers. It returns once the subscription is confirmed.
func (b *RedisBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return oops.Code("EVENTBUS_ALREADY_STARTED").Errorf("redis bus already started")
	}

	startBackoff := retry.WithMaxRetries(defaultStartRetries, b.backoff())
	ps, err := b.subscribe(ctx, startBackoff)
	if err != nil {
		return oops.Code("EVENTBUS_SUBSCRIBE_FAILED").
			With("operation", "subscribe").
			With("channel", b.channel).
			Wrap(err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.ps = ps
	b.started = true
	b.wg.Add(1)
	go b.receiveLoop(loopCtx, ps)

	b.logger.Info("subscribed to fleet events", "origin", b.origin)
	return nil
}

func (b *RedisBus) backoff() retry.Backoff {
	return retry.WithCappedDuration(b.retryMax, retry.NewExponential(b.retryInitial))
}

func (b *RedisBus) subscribe(ctx context.Context, backoff retry.Backoff) (*redis.PubSub, error) {
	var ps *redis.PubSub
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p := b.client.Subscribe(ctx, b.channel)
		if _, err := p.Receive(ctx); err != nil {
			_ = p.Close()
			b.logger.Warn("fleet subscription attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		ps = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ps, nil
}

// receiveLoop relays messages until ctx is cancelled. A receive error drops
// the subscription and a new one is made with backoff; messages published in
// between are lost.
func (b *RedisBus) receiveLoop(ctx context.Context, ps *redis.PubSub) {
	defer b.wg.Done()

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err == nil {
			b.handleMessage(ctx, msg.Payload)
			continue
		}

		_ = ps.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("fleet subscription lost, resubscribing", "error", err)
		resubscribes.Inc()

		ps, err = b.subscribe(ctx, b.backoff())
		if err != nil {
			// Only a cancelled context ends an unbounded backoff.
			return
		}
		if !b.replace(ctx, ps) {
			_ = ps.Close()
			return
		}
		b.logger.Info("resubscribed to fleet events")
	}
}

// replace makes ps the subscription Close tears down. It reports false when
// Close already ran.
func (b *RedisBus) replace(ctx context.Context, ps *redis.PubSub) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	b.ps = ps
	return true
}

func (b *RedisBus) handleMessage(ctx context.Context, payload string) {
	env, event, err := Decode([]byte(payload))
	if err != nil {
		decodeErrors.Inc()
		b.logger.Warn("dropping undecodable fleet event", "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	remoteEvents.WithLabelValues(string(env.Type)).Inc()
	if err := b.local.deliver(ctx, event); err != nil && ctx.Err() == nil {
		b.logger.Error("failed to deliver fleet event",
			"event_id", env.ID.String(),
			"event_type", string(env.Type),
			"origin", env.Origin,
			"error", err,
		)
	}
}

// Publish delivers event locally and, for ScopeFleet, publishes it to the
// rest of the fleet.
func (b *RedisBus) Publish(ctx context.Context, event Event, scope Scope) error {
	if err := b.local.deliver(ctx, event); err != nil {
		return err
	}
	publishedEvents.WithLabelValues(string(event.Type()), scope.String()).Inc()
	if scope != ScopeFleet {
		return nil
	}

	data, err := Encode(event, b.origin, time.Now())
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return oops.Code("EVENTBUS_PUBLISH_FAILED").
			With("operation", "redis publish").
			With("channel", b.channel).
			With("event_type", string(event.Type())).
			With("account_id", event.Account()).
			Wrap(err)
	}
	return nil
}

// Subscribe registers h with the local bus. Remote events reach it through
// the relay loop.
func (b *RedisBus) Subscribe(t EventType, h Handler) func() {
	return b.local.Subscribe(t, h)
}

// Close stops the relay loop. It does not close the client or the local bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	ps := b.ps
	b.ps = nil
	b.mu.Unlock()

	// Closing the subscription unblocks a pending receive.
	if ps != nil {
		_ = ps.Close()
	}
	b.wg.Wait()
	return nil
}

var _ Bus = (*RedisBus)(nil)
