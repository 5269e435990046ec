// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/pkg/errutil"
)

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count() int {
	return len(r.snapshot())
}

func TestLocalBus_DeliversByType(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewLocalBus()
	defer bus.Close()

	var accounts, logins recorder
	bus.Subscribe(TypeAccountChanged, accounts.handle)
	bus.Subscribe(TypeSessionLogin, logins.handle)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, AccountChanged{AccountID: 7}, ScopeFleet))
	require.NoError(t, bus.Publish(ctx, RankChanged{AccountID: 7, Rank: account.RankAdmin}, ScopeLocal))

	require.Eventually(t, func() bool { return accounts.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Event{AccountChanged{AccountID: 7}}, accounts.snapshot())
	assert.Zero(t, logins.count())
}

func TestLocalBus_MultipleSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewLocalBus()
	defer bus.Close()

	var a, b recorder
	bus.Subscribe(TypeAccountChanged, a.handle)
	bus.Subscribe(TypeAccountChanged, b.handle)

	for i := range 10 {
		require.NoError(t, bus.Publish(context.Background(), AccountChanged{AccountID: int64(i)}, ScopeLocal))
	}

	require.Eventually(t, func() bool { return a.count() == 10 && b.count() == 10 }, time.Second, 5*time.Millisecond)
	// One subscription sees events in publish order.
	for i, e := range a.snapshot() {
		assert.Equal(t, int64(i), e.Account())
	}
}

func TestLocalBus_Unsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewLocalBus()
	defer bus.Close()

	var rec recorder
	unsubscribe := bus.Subscribe(TypeAccountChanged, rec.handle)
	require.NoError(t, bus.Publish(context.Background(), AccountChanged{AccountID: 1}, ScopeLocal))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), AccountChanged{AccountID: 2}, ScopeLocal))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestLocalBus_HandlerPanicIsContained(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewLocalBus()
	defer bus.Close()

	var rec recorder
	bus.Subscribe(TypeAccountChanged, func(ctx context.Context, e Event) {
		if e.Account() == 1 {
			panic("boom")
		}
		rec.handle(ctx, e)
	})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, AccountChanged{AccountID: 1}, ScopeLocal))
	require.NoError(t, bus.Publish(ctx, AccountChanged{AccountID: 2}, ScopeLocal))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLocalBus_BackpressureHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewLocalBus(WithBufferSize(1))
	defer bus.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(TypeAccountChanged, func(context.Context, Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	defer close(release)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, AccountChanged{AccountID: 1}, ScopeLocal))
	<-started
	// Fills the single queue slot while the handler is blocked.
	require.NoError(t, bus.Publish(ctx, AccountChanged{AccountID: 2}, ScopeLocal))

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(tctx, AccountChanged{AccountID: 3}, ScopeLocal)
	errutil.AssertErrorCode(t, err, "EVENTBUS_PUBLISH_FAILED")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalBus_Close(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewLocalBus()
	var rec recorder
	bus.Subscribe(TypeAccountChanged, rec.handle)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), AccountChanged{AccountID: 1}, ScopeLocal)
	assert.ErrorIs(t, err, ErrClosed)

	// Subscribing after close is a no-op.
	unsubscribe := bus.Subscribe(TypeAccountChanged, rec.handle)
	unsubscribe()
}
