// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memstore

import (
	"context"
	"sort"

	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
)

// SessionRepository implements account.SessionRepository in memory.
type SessionRepository struct {
	s *Store
}

// Upsert inserts or refreshes the session. The account check and the write
// happen under one lock.
func (r *SessionRepository) Upsert(ctx context.Context, session *account.Session) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("SESSION_UPSERT_FAILED").With("operation", "upsert session").Wrap(err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[session.AccountID]; !ok {
		return unknownAccount(session.AccountID)
	}
	r.s.sessions[session.Key] = *session
	return nil
}

// SelectByKey returns the session stored for key, expired or not.
func (r *SessionRepository) SelectByKey(ctx context.Context, key account.SessionKey) (*account.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("SESSION_QUERY_FAILED").With("operation", "select session by key").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	session, ok := r.s.sessions[key]
	if !ok {
		return nil, notFound("select session by key", "session", key.String())
	}
	return &session, nil
}

// SelectByAccount returns every session of the account ordered by expiry.
func (r *SessionRepository) SelectByAccount(ctx context.Context, accountID int64) ([]*account.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("SESSION_QUERY_FAILED").With("operation", "select sessions by account").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*account.Session
	for _, session := range r.s.sessions {
		if session.AccountID == accountID {
			s := session
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

// DeleteByKey reports whether a session was removed.
func (r *SessionRepository) DeleteByKey(ctx context.Context, key account.SessionKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oops.Code("SESSION_DELETE_FAILED").With("operation", "delete session by key").Wrap(err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[key]; !ok {
		return false, nil
	}
	delete(r.s.sessions, key)
	return true, nil
}

// DeleteByAccount reports whether at least one session was removed.
func (r *SessionRepository) DeleteByAccount(ctx context.Context, accountID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oops.Code("SESSION_DELETE_FAILED").With("operation", "delete sessions by account").Wrap(err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	deleted := false
	for key, session := range r.s.sessions {
		if session.AccountID == accountID {
			delete(r.s.sessions, key)
			deleted = true
		}
	}
	return deleted, nil
}

var _ account.SessionRepository = (*SessionRepository)(nil)

// LegacyRepository implements account.LegacyRepository in memory.
type LegacyRepository struct {
	s *Store
}

// ExistsByUsername reports whether a legacy account has the name.
func (r *LegacyRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oops.Code("LEGACY_QUERY_FAILED").With("operation", "legacy exists by username").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.legacy[username]
	return ok, nil
}

// SelectPasswordByUsername returns a copy of the legacy digest.
func (r *LegacyRepository) SelectPasswordByUsername(ctx context.Context, username string) (*account.PasswordDigest, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("LEGACY_QUERY_FAILED").With("operation", "legacy password by username").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.legacy[username]
	if !ok {
		return nil, notFound("legacy password by username", "username", username)
	}
	d = cloneDigest(d)
	return &d, nil
}

var _ account.LegacyRepository = (*LegacyRepository)(nil)
