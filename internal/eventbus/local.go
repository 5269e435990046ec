// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"
)

const defaultBufferSize = 256

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = oops.Code("EVENTBUS_CLOSED").Errorf("event bus is closed")

// LocalOption configures a LocalBus.
type LocalOption func(*LocalBus)

// WithBufferSize sets the per-subscription queue length.
func WithBufferSize(n int) LocalOption {
	return func(b *LocalBus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger for handler failures.
func WithLogger(l *slog.Logger) LocalOption {
	return func(b *LocalBus) {
		if l != nil {
			b.logger = l
		}
	}
}

type subscription struct {
	t    EventType
	h    Handler
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// LocalBus delivers events to handlers in this process. Every subscription
// has its own queue and goroutine, so handlers for one type never wait on
// another. A full queue applies backpressure to Publish instead of dropping.
type LocalBus struct {
	buffer int
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[EventType][]*subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalBus creates a LocalBus. Call Close to stop its goroutines.
func NewLocalBus(opts ...LocalOption) *LocalBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &LocalBus{
		buffer: defaultBufferSize,
		logger: slog.Default(),
		subs:   make(map[EventType][]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events of type t.
func (b *LocalBus) Subscribe(t EventType, h Handler) func() {
	sub := &subscription{
		t:    t,
		h:    h,
		ch:   make(chan Event, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[t] = append(b.subs[t], sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(sub)

	return func() { b.unsubscribe(sub) }
}

func (b *LocalBus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.t]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.t] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	sub.stop()
}

// Publish queues event for every local subscriber. The scope is recorded in
// metrics only; a LocalBus has no fleet to reach.
func (b *LocalBus) Publish(ctx context.Context, event Event, scope Scope) error {
	if err := b.deliver(ctx, event); err != nil {
		return err
	}
	publishedEvents.WithLabelValues(string(event.Type()), scope.String()).Inc()
	return nil
}

// deliver queues event for every local subscriber.
func (b *LocalBus) deliver(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*subscription(nil), b.subs[event.Type()]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		case <-sub.done:
		case <-ctx.Done():
			return oops.Code("EVENTBUS_PUBLISH_FAILED").
				With("operation", "queue event").
				With("event_type", string(event.Type())).
				With("account_id", event.Account()).
				Wrap(ctx.Err())
		}
	}
	return nil
}

func (b *LocalBus) run(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.ch:
			b.dispatch(sub, event)
		}
	}
}

func (b *LocalBus) dispatch(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.WithLabelValues(string(event.Type())).Inc()
			b.logger.Error("event handler panicked",
				"event_type", string(event.Type()),
				"account_id", event.Account(),
				"panic", r,
			)
		}
	}()
	sub.h(b.ctx, event)
	deliveredEvents.WithLabelValues(string(event.Type())).Inc()
}

// Close stops all subscriptions and waits for running handlers to return.
// Events still queued are discarded.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.subs = make(map[EventType][]*subscription)
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

var _ Bus = (*LocalBus)(nil)
