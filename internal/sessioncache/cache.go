// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sessioncache keeps a per-process view of which account each
// connected session belongs to.
//
// The cache is a projection of the session and account stores. Reads never
// touch the store; a miss means the connection is anonymous. Entries are
// filled once on connect and afterwards only change in response to bus
// events, so staleness is bounded by the next event for the account.
//
// An entry also records when its session expires. Get treats an entry past
// that instant as anonymous without consulting the store.
//
// Every update is applied under the lock of the key's shard and compares
// account revisions, so applying the same event twice, or an older snapshot
// after a newer one, leaves the entry unchanged.
package sessioncache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 32

// Source resolves sessions and accounts. auth.Service implements it; it
// filters expired sessions.
type Source interface {
	// SelectSession returns an error wrapping account.ErrNotFound for
	// connections without an unexpired session.
	SelectSession(ctx context.Context, key account.SessionKey) (*account.Session, error)
	SelectAccount(ctx context.Context, id int64) (*account.Account, error)
	SelectSessions(ctx context.Context, accountID int64) ([]*account.Session, error)
}

// entry is one tracked connection. account is nil while anonymous and
// expiresAt is the end of the session backing account.
type entry struct {
	account   *account.Account
	expiresAt time.Time
	gen       uint64
}

type shard struct {
	mu      sync.RWMutex
	entries map[account.SessionKey]*entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithShards sets the number of shards.
func WithShards(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.shards = make([]shard, n)
		}
	}
}

// WithLogger sets the logger used for event handling failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the clock used to expire entries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache maps connected sessions to account snapshots. It is safe for
// concurrent use.
type Cache struct {
	source Source
	shards []shard
	logger *slog.Logger
	now    func() time.Time
	gen    atomic.Uint64
	size   atomic.Int64
}

// New creates a Cache reading through source.
func New(source Source, opts ...Option) (*Cache, error) {
	if source == nil {
		return nil, oops.Code("CACHE_INVALID_CONFIG").Errorf("source is required")
	}
	c := &Cache{
		source: source,
		shards: make([]shard, DefaultShards),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[account.SessionKey]*entry)
	}
	c.logger = c.logger.With("component", "sessioncache")
	return c, nil
}

func (c *Cache) shardFor(key account.SessionKey) *shard {
	d := xxhash.New()
	_, _ = d.WriteString(key.UUID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(key.USID)
	_, _ = d.Write([]byte{0})
	addr := key.Address.As16()
	_, _ = d.Write(addr[:])
	return &c.shards[d.Sum64()%uint64(len(c.shards))]
}

// Connect starts tracking key as anonymous, then resolves its session once.
// The resolved account is stored only if the key is still tracked by the
// same Connect, so a Disconnect racing the lookup wins.
func (c *Cache) Connect(ctx context.Context, key account.SessionKey) error {
	gen := c.gen.Add(1)
	s := c.shardFor(key)

	s.mu.Lock()
	if _, ok := s.entries[key]; !ok {
		c.size.Add(1)
		entries.Inc()
	}
	s.entries[key] = &entry{gen: gen}
	s.mu.Unlock()

	return c.resolve(ctx, key, gen)
}

// Disconnect stops tracking key.
func (c *Cache) Disconnect(key account.SessionKey) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		c.size.Add(-1)
		entries.Dec()
	}
}

// Get returns a copy of the account behind key. It reports false for keys
// that are untracked, anonymous or whose session has expired.
func (c *Cache) Get(key account.SessionKey) (account.Account, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	var (
		acc       *account.Account
		expiresAt time.Time
	)
	if ok && e.account != nil {
		acc = e.account.Clone()
		expiresAt = e.expiresAt
	}
	s.mu.RUnlock()

	switch {
	case !ok:
		lookups.WithLabelValues("miss").Inc()
		return account.Account{}, false
	case acc == nil:
		lookups.WithLabelValues("anonymous").Inc()
		return account.Account{}, false
	case !c.now().Before(expiresAt):
		lookups.WithLabelValues("expired").Inc()
		return account.Account{}, false
	}
	lookups.WithLabelValues("hit").Inc()
	return *acc, true
}

// Connected reports whether key is tracked, anonymous or not.
func (c *Cache) Connected(key account.SessionKey) bool {
	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of tracked connections.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// Refresh re-resolves the session of a tracked key. Untracked keys are
// ignored.
func (c *Cache) Refresh(ctx context.Context, key account.SessionKey) error {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	var gen uint64
	if ok {
		gen = e.gen
	}
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.resolve(ctx, key, gen)
}

func (c *Cache) resolve(ctx context.Context, key account.SessionKey, gen uint64) error {
	session, err := c.source.SelectSession(ctx, key)
	if errors.Is(err, account.ErrNotFound) {
		c.update(key, gen, nil, time.Time{})
		return nil
	}
	if err != nil {
		return oops.Code("CACHE_RESOLVE_FAILED").
			With("operation", "select session").
			With("session", key.String()).
			Wrap(err)
	}

	acc, err := c.source.SelectAccount(ctx, session.AccountID)
	if errors.Is(err, account.ErrNotFound) {
		c.update(key, gen, nil, time.Time{})
		return nil
	}
	if err != nil {
		return oops.Code("CACHE_RESOLVE_FAILED").
			With("operation", "select account").
			With("session", key.String()).
			With("account_id", session.AccountID).
			Wrap(err)
	}
	c.update(key, gen, acc, session.ExpiresAt)
	return nil
}

// update stores acc (nil for anonymous) at key if the key is still tracked
// under gen. A gen of zero matches any tracked entry.
func (c *Cache) update(key account.SessionKey, gen uint64, acc *account.Account, expiresAt time.Time) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || (gen != 0 && e.gen != gen) {
		return
	}
	c.set(e, acc)
	c.extend(e, acc, expiresAt)
}

// set applies acc to e. The caller holds the shard lock.
func (c *Cache) set(e *entry, acc *account.Account) bool {
	switch {
	case acc == nil:
		if e.account == nil {
			return false
		}
		e.account = nil
		e.expiresAt = time.Time{}
		updates.WithLabelValues("cleared").Inc()
	case e.account == nil:
		e.account = acc.Clone()
		updates.WithLabelValues("filled").Inc()
	case e.account.ID != acc.ID:
		e.account = acc.Clone()
		updates.WithLabelValues("replaced").Inc()
	case acc.Revision < e.account.Revision:
		updates.WithLabelValues("stale").Inc()
		return false
	default:
		e.account = acc.Clone()
		updates.WithLabelValues("replaced").Inc()
	}
	return true
}

// extend records the session expiry of e after acc was applied to it. The
// caller holds the shard lock.
func (c *Cache) extend(e *entry, acc *account.Account, expiresAt time.Time) {
	if acc != nil && e.account != nil && e.account.ID == acc.ID {
		e.expiresAt = expiresAt
	}
}

// ApplyAccount replaces the snapshot of every entry that holds acc's account,
// unless the entry already holds a newer revision. It returns the number of
// entries updated.
func (c *Cache) ApplyAccount(acc *account.Account) int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			if e.account != nil && e.account.ID == acc.ID && c.set(e, acc) {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// HandleAccountChanged reconciles every tracked entry of account id with the
// store: the account's sessions and snapshot are fetched once, keys whose
// session belongs to id get the new snapshot and entries holding id whose
// session is gone become anonymous. Nothing is fetched beyond the session list
// when no tracked key is involved.
func (c *Cache) HandleAccountChanged(ctx context.Context, id int64) error {
	sessions, err := c.source.SelectSessions(ctx, id)
	if err != nil {
		return oops.Code("CACHE_RESOLVE_FAILED").
			With("operation", "select sessions").
			With("account_id", id).
			Wrap(err)
	}
	valid := make(map[account.SessionKey]time.Time, len(sessions))
	for _, session := range sessions {
		valid[session.Key] = session.ExpiresAt
	}

	if !c.involves(id, valid) {
		return nil
	}

	acc, err := c.source.SelectAccount(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		acc, valid = nil, nil
	} else if err != nil {
		return oops.Code("CACHE_RESOLVE_FAILED").
			With("operation", "select account").
			With("account_id", id).
			Wrap(err)
	}

	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			expiresAt, belongs := valid[key]
			switch {
			case belongs:
				c.set(e, acc)
				c.extend(e, acc, expiresAt)
			case e.account != nil && e.account.ID == id:
				c.set(e, nil)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// involves reports whether a tracked entry holds account id or is keyed by
// one of its sessions.
func (c *Cache) involves(id int64, keys map[account.SessionKey]time.Time) bool {
	for key := range keys {
		if c.Connected(key) {
			return true
		}
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, e := range s.entries {
			if e.account != nil && e.account.ID == id {
				s.mu.RUnlock()
				return true
			}
		}
		s.mu.RUnlock()
	}
	return false
}
