// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sessioncache_test

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/internal/sessioncache"
	"github.com/holomush/fleetauth/pkg/errutil"
)

// fakeSession is a session held by fakeSource.
type fakeSession struct {
	accountID int64
	expiresAt time.Time
}

// fakeSource is an in-memory Source with call counters.
type fakeSource struct {
	mu       sync.Mutex
	sessions map[account.SessionKey]fakeSession
	accounts map[int64]*account.Account
	err      error
	block    chan struct{} // when set, the next SelectSession waits on it

	bySession, byID, sessionLists int
}

// farFuture is the expiry of sessions created by login.
var farFuture = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

func newFakeSource() *fakeSource {
	return &fakeSource{
		sessions: map[account.SessionKey]fakeSession{},
		accounts: map[int64]*account.Account{},
	}
}

func (f *fakeSource) put(acc *account.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[acc.ID] = acc.Clone()
}

func (f *fakeSource) login(key account.SessionKey, id int64) {
	f.loginUntil(key, id, farFuture)
}

func (f *fakeSource) loginUntil(key account.SessionKey, id int64, expiresAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[key] = fakeSession{accountID: id, expiresAt: expiresAt}
}

func (f *fakeSource) logout(key account.SessionKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, key)
}

func (f *fakeSource) counts() (bySession, byID, sessionLists int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bySession, f.byID, f.sessionLists
}

func (f *fakeSource) SelectSession(_ context.Context, key account.SessionKey) (*account.Session, error) {
	f.mu.Lock()
	block := f.block
	f.block = nil
	f.bySession++
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	session, ok := f.sessions[key]
	if !ok {
		return nil, oops.Code("NOT_FOUND").Wrap(account.ErrNotFound)
	}
	return &account.Session{Key: key, Server: "test", AccountID: session.accountID, ExpiresAt: session.expiresAt}, nil
}

func (f *fakeSource) SelectAccount(_ context.Context, id int64) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID++
	if f.err != nil {
		return nil, f.err
	}
	acc, ok := f.accounts[id]
	if !ok {
		return nil, oops.Code("NOT_FOUND").Wrap(account.ErrNotFound)
	}
	return acc.Clone(), nil
}

func (f *fakeSource) SelectSessions(_ context.Context, id int64) ([]*account.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionLists++
	if f.err != nil {
		return nil, f.err
	}
	var out []*account.Session
	for key, session := range f.sessions {
		if session.accountID == id {
			out = append(out, &account.Session{Key: key, Server: "test", AccountID: id, ExpiresAt: session.expiresAt})
		}
	}
	return out, nil
}

func key(usid string) account.SessionKey {
	return account.SessionKey{UUID: "uuid-" + usid, USID: usid, Address: netip.MustParseAddr("192.0.2.1")}
}

func newAccount(id int64, name string) *account.Account {
	return &account.Account{ID: id, Username: name, Rank: account.RankEveryone, Metadata: map[string]string{}, Revision: 1}
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newCache(t *testing.T, src sessioncache.Source) *sessioncache.Cache {
	t.Helper()
	c, err := sessioncache.New(src, sessioncache.WithShards(4))
	require.NoError(t, err)
	return c
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := sessioncache.New(nil)
	errutil.AssertErrorCode(t, err, "CACHE_INVALID_CONFIG")
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.put(newAccount(1, "alice"))
	src.login(key("a"), 1)
	c := newCache(t, src)

	t.Run("anonymous connection is tracked but not resolved", func(t *testing.T) {
		require.NoError(t, c.Connect(ctx, key("anon")))
		assert.True(t, c.Connected(key("anon")))
		_, ok := c.Get(key("anon"))
		assert.False(t, ok)
	})

	t.Run("session is resolved once", func(t *testing.T) {
		before, _, _ := src.counts()
		require.NoError(t, c.Connect(ctx, key("a")))
		after, _, _ := src.counts()
		assert.Equal(t, before+1, after)

		acc, ok := c.Get(key("a"))
		require.True(t, ok)
		assert.Equal(t, "alice", acc.Username)

		for range 10 {
			_, _ = c.Get(key("a"))
		}
		final, _, _ := src.counts()
		assert.Equal(t, after, final, "reads must not touch the source")
	})

	t.Run("untracked key is a miss", func(t *testing.T) {
		_, ok := c.Get(key("nobody"))
		assert.False(t, ok)
		assert.False(t, c.Connected(key("nobody")))
	})

	t.Run("disconnect forgets the key", func(t *testing.T) {
		c.Disconnect(key("a"))
		c.Disconnect(key("a"))
		_, ok := c.Get(key("a"))
		assert.False(t, ok)
		assert.False(t, c.Connected(key("a")))
		assert.Equal(t, 1, c.Len())
	})
}

func TestConnect_SourceError(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("connection refused")
	c := newCache(t, src)

	err := c.Connect(context.Background(), key("a"))
	errutil.AssertErrorCode(t, err, "CACHE_RESOLVE_FAILED")
	assert.True(t, c.Connected(key("a")), "connection stays tracked as anonymous")
}

func TestConnect_DisconnectDuringLookupWins(t *testing.T) {
	src := newFakeSource()
	src.put(newAccount(1, "alice"))
	src.login(key("a"), 1)
	src.block = make(chan struct{})
	c := newCache(t, src)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background(), key("a")) }()

	require.Eventually(t, func() bool {
		n, _, _ := src.counts()
		return n == 1
	}, waitFor, tick)
	c.Disconnect(key("a"))
	close(src.block)
	require.NoError(t, <-done)

	assert.False(t, c.Connected(key("a")))
	assert.Zero(t, c.Len())
}

func TestConnect_ReconnectDuringLookupKeepsNewest(t *testing.T) {
	src := newFakeSource()
	src.put(newAccount(1, "alice"))
	block := make(chan struct{})
	src.block = block
	c := newCache(t, src)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background(), key("a")) }()
	require.Eventually(t, func() bool {
		n, _, _ := src.counts()
		return n == 1
	}, waitFor, tick)

	// The second connect sees a login and supersedes the pending lookup.
	src.login(key("a"), 1)
	require.NoError(t, c.Connect(context.Background(), key("a")))

	// The first lookup now resolves to anonymous and must be discarded.
	src.logout(key("a"))
	close(block)
	require.NoError(t, <-done)

	acc, ok := c.Get(key("a"))
	require.True(t, ok)
	assert.Equal(t, int64(1), acc.ID)
	assert.Equal(t, 1, c.Len())
}

// manualClock is a clock tests advance by hand.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGet_ExpiredSessionIsAnonymous(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	src := newFakeSource()
	src.put(newAccount(1, "alice"))
	src.loginUntil(key("a"), 1, clock.Now().Add(time.Hour))
	c, err := sessioncache.New(src, sessioncache.WithShards(4), sessioncache.WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, c.Connect(ctx, key("a")))
	_, ok := c.Get(key("a"))
	require.True(t, ok)

	clock.Advance(59 * time.Minute)
	_, ok = c.Get(key("a"))
	assert.True(t, ok, "session is still valid")

	before, _, _ := src.counts()
	clock.Advance(time.Minute)
	_, ok = c.Get(key("a"))
	assert.False(t, ok, "session expires at its deadline")
	assert.True(t, c.Connected(key("a")))
	after, _, _ := src.counts()
	assert.Equal(t, before, after, "expiry is decided without the source")

	t.Run("a reconcile carries the renewed deadline", func(t *testing.T) {
		src.loginUntil(key("a"), 1, clock.Now().Add(time.Hour))
		require.NoError(t, c.HandleAccountChanged(ctx, 1))
		_, ok := c.Get(key("a"))
		assert.True(t, ok)

		clock.Advance(2 * time.Hour)
		_, ok = c.Get(key("a"))
		assert.False(t, ok)
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.put(newAccount(1, "alice"))
	c := newCache(t, src)

	require.NoError(t, c.Connect(ctx, key("a")))
	_, ok := c.Get(key("a"))
	require.False(t, ok)

	src.login(key("a"), 1)
	require.NoError(t, c.Refresh(ctx, key("a")))
	_, ok = c.Get(key("a"))
	assert.True(t, ok)

	src.logout(key("a"))
	require.NoError(t, c.Refresh(ctx, key("a")))
	_, ok = c.Get(key("a"))
	assert.False(t, ok)
	assert.True(t, c.Connected(key("a")))

	before, _, _ := src.counts()
	require.NoError(t, c.Refresh(ctx, key("untracked")))
	after, _, _ := src.counts()
	assert.Equal(t, before, after, "untracked keys are not resolved")
}

func TestApplyAccount(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	alice := newAccount(1, "alice")
	alice.Revision = 5
	src.put(alice)
	src.put(newAccount(2, "bob"))
	src.login(key("a1"), 1)
	src.login(key("a2"), 1)
	src.login(key("b"), 2)
	c := newCache(t, src)
	for _, k := range []string{"a1", "a2", "b"} {
		require.NoError(t, c.Connect(ctx, key(k)))
	}

	t.Run("older revision is ignored", func(t *testing.T) {
		stale := alice.Clone()
		stale.Revision = 4
		stale.Rank = account.RankOwner
		assert.Zero(t, c.ApplyAccount(stale))

		acc, _ := c.Get(key("a1"))
		assert.Equal(t, account.RankEveryone, acc.Rank)
	})

	t.Run("newer revision replaces every entry of the account", func(t *testing.T) {
		fresh := alice.Clone()
		fresh.Revision = 6
		fresh.Rank = account.RankAdmin
		assert.Equal(t, 2, c.ApplyAccount(fresh))

		for _, k := range []string{"a1", "a2"} {
			acc, ok := c.Get(key(k))
			require.True(t, ok)
			assert.Equal(t, account.RankAdmin, acc.Rank)
		}
		bob, _ := c.Get(key("b"))
		assert.Equal(t, account.RankEveryone, bob.Rank)
	})

	t.Run("returned snapshots do not alias the cache", func(t *testing.T) {
		acc, _ := c.Get(key("a1"))
		acc.Metadata["x"] = "y"
		again, _ := c.Get(key("a1"))
		assert.NotContains(t, again.Metadata, "x")
	})
}

func TestHandleAccountChanged(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fakeSource, *sessioncache.Cache) {
		src := newFakeSource()
		src.put(newAccount(1, "alice"))
		src.put(newAccount(2, "bob"))
		src.login(key("a1"), 1)
		src.login(key("a2"), 1)
		src.login(key("b"), 2)
		c := newCache(t, src)
		for _, k := range []string{"a1", "a2", "b"} {
			require.NoError(t, c.Connect(ctx, key(k)))
		}
		return src, c
	}

	t.Run("converges every entry of the account", func(t *testing.T) {
		src, c := setup(t)
		changed := newAccount(1, "alice")
		changed.Revision = 2
		changed.Achievements = account.NewAchievementSet(account.AchievementGamer)
		src.put(changed)

		require.NoError(t, c.HandleAccountChanged(ctx, 1))

		for _, k := range []string{"a1", "a2"} {
			acc, ok := c.Get(key(k))
			require.True(t, ok)
			assert.True(t, acc.Achievements.Has(account.AchievementGamer))
		}
		bob, ok := c.Get(key("b"))
		require.True(t, ok)
		assert.Equal(t, *newAccount(2, "bob"), bob)
	})

	t.Run("is idempotent", func(t *testing.T) {
		src, c := setup(t)
		changed := newAccount(1, "alice")
		changed.Revision = 2
		changed.Rank = account.RankModerator
		src.put(changed)

		require.NoError(t, c.HandleAccountChanged(ctx, 1))
		once, _ := c.Get(key("a1"))
		require.NoError(t, c.HandleAccountChanged(ctx, 1))
		twice, _ := c.Get(key("a1"))
		assert.Equal(t, once, twice)
	})

	t.Run("fetches the account once", func(t *testing.T) {
		src, c := setup(t)
		_, beforeID, beforeLists := src.counts()
		require.NoError(t, c.HandleAccountChanged(ctx, 1))
		_, afterID, afterLists := src.counts()
		assert.Equal(t, beforeID+1, afterID)
		assert.Equal(t, beforeLists+1, afterLists)
	})

	t.Run("skips the account fetch when nothing is tracked", func(t *testing.T) {
		src, c := setup(t)
		src.put(newAccount(3, "carol"))
		src.login(key("elsewhere"), 3)

		_, beforeID, _ := src.counts()
		require.NoError(t, c.HandleAccountChanged(ctx, 3))
		_, afterID, _ := src.counts()
		assert.Equal(t, beforeID, afterID)
	})

	t.Run("entries whose session ended become anonymous", func(t *testing.T) {
		src, c := setup(t)
		src.logout(key("a2"))

		require.NoError(t, c.HandleAccountChanged(ctx, 1))

		_, ok := c.Get(key("a1"))
		assert.True(t, ok)
		_, ok = c.Get(key("a2"))
		assert.False(t, ok)
		assert.True(t, c.Connected(key("a2")))
	})

	t.Run("deleted account clears its entries", func(t *testing.T) {
		src, c := setup(t)
		src.mu.Lock()
		delete(src.accounts, 1)
		src.mu.Unlock()

		require.NoError(t, c.HandleAccountChanged(ctx, 1))
		_, ok := c.Get(key("a1"))
		assert.False(t, ok)
		_, ok = c.Get(key("b"))
		assert.True(t, ok)
	})

	t.Run("source failure is reported", func(t *testing.T) {
		src, c := setup(t)
		src.err = errors.New("timeout")
		err := c.HandleAccountChanged(ctx, 1)
		errutil.AssertErrorCode(t, err, "CACHE_RESOLVE_FAILED")

		_, ok := c.Get(key("a1"))
		assert.True(t, ok, "entries survive a failed reconcile")
	})
}

func TestCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	for i := int64(1); i <= 4; i++ {
		src.put(newAccount(i, fmt.Sprintf("user%d", i)))
	}
	c := newCache(t, src)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				k := key(fmt.Sprintf("%d-%d", w, i%10))
				id := int64(i%4 + 1)
				switch i % 5 {
				case 0:
					src.login(k, id)
					_ = c.Connect(ctx, k)
				case 1:
					_, _ = c.Get(k)
				case 2:
					_ = c.HandleAccountChanged(ctx, id)
				case 3:
					_ = c.Refresh(ctx, k)
				case 4:
					c.Disconnect(k)
				}
			}
		}()
	}
	wg.Wait()

	tracked := 0
	for w := range 8 {
		for i := range 10 {
			if c.Connected(key(fmt.Sprintf("%d-%d", w, i))) {
				tracked++
			}
		}
	}
	assert.Equal(t, tracked, c.Len())
}
