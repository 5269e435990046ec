// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memstore provides in-memory implementations of the account
// repositories. It backs unit tests and single-process deployments that run
// without PostgreSQL.
package memstore

import (
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
)

type accountRow struct {
	account account.Account
	digest  account.PasswordDigest
}

// Store holds accounts, sessions and legacy accounts behind a single lock so
// that every operation is atomic, the same way a statement is in PostgreSQL.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[int64]*accountRow
	byName   map[string]int64
	sessions map[account.SessionKey]account.Session
	legacy   map[string]account.PasswordDigest
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for account creation times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[int64]*accountRow),
		byName:   make(map[string]int64),
		sessions: make(map[account.SessionKey]account.Session),
		legacy:   make(map[string]account.PasswordDigest),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accounts returns the account repository view of the store.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{s: s}
}

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{s: s}
}

// Legacy returns the legacy account repository view of the store.
func (s *Store) Legacy() *LegacyRepository {
	return &LegacyRepository{s: s}
}

// AddLegacy seeds a legacy account.
func (s *Store) AddLegacy(username string, digest account.PasswordDigest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacy[username] = cloneDigest(digest)
}

// DeleteAccount removes an account together with its sessions, mirroring the
// cascading foreign key of the SQL schema.
func (s *Store) DeleteAccount(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[id]
	if !ok {
		return false
	}
	delete(s.byName, row.account.Username)
	delete(s.accounts, id)
	for key, session := range s.sessions {
		if session.AccountID == id {
			delete(s.sessions, key)
		}
	}
	return true
}

func cloneDigest(d account.PasswordDigest) account.PasswordDigest {
	return account.PasswordDigest{
		Hash:   append([]byte(nil), d.Hash...),
		Salt:   append([]byte(nil), d.Salt...),
		Params: d.Params,
	}
}

func notFound(operation string, attrs ...any) error {
	b := oops.Code("NOT_FOUND").With("operation", operation)
	if len(attrs) >= 2 {
		b = b.With(attrs...)
	}
	return b.Wrap(account.ErrNotFound)
}

func unknownAccount(id int64) error {
	return oops.Code("ACCOUNT_UNKNOWN_ID").With("account_id", id).Wrap(account.ErrAccountNotFound)
}
