// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"time"
)

// AccountRepository is the authoritative account store.
//
// Every mutation checks that the account exists before updating it and
// fails with ErrAccountNotFound otherwise. The returned bool reports whether
// a row actually changed, so callers can skip publishing redundant events.
type AccountRepository interface {
	// Insert creates an account and returns its id.
	// Returns ErrUsernameTaken if the username already exists.
	Insert(ctx context.Context, username string, digest PasswordDigest) (int64, error)

	// SelectByID returns ErrNotFound if no account has the id.
	SelectByID(ctx context.Context, id int64) (*Account, error)

	// SelectByUsername matches the username exactly (case-sensitive).
	SelectByUsername(ctx context.Context, username string) (*Account, error)

	// SelectByDiscord looks an account up by its linked chat identity.
	SelectByDiscord(ctx context.Context, discord int64) (*Account, error)

	ExistsByID(ctx context.Context, id int64) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// IncrementGames adds one to the games counter atomically.
	IncrementGames(ctx context.Context, id int64) (bool, error)

	// IncrementPlaytime adds d, truncated to whole seconds, atomically.
	IncrementPlaytime(ctx context.Context, id int64, d time.Duration) (bool, error)

	// UpdateAchievement sets or clears one achievement. Setting an
	// achievement already held (or clearing one not held) reports false.
	UpdateAchievement(ctx context.Context, id int64, achievement Achievement, completed bool) (bool, error)

	// UpdateMetadata upserts one metadata entry. Writing the value already
	// stored reports false.
	UpdateMetadata(ctx context.Context, id int64, key, value string) (bool, error)

	UpdateRank(ctx context.Context, id int64, rank Rank) (bool, error)
	UpdateDiscord(ctx context.Context, id int64, discord int64) (bool, error)
	UpdatePassword(ctx context.Context, id int64, digest PasswordDigest) (bool, error)

	// SelectPasswordByID returns only the stored digest.
	// Returns ErrNotFound if the account does not exist.
	SelectPasswordByID(ctx context.Context, id int64) (*PasswordDigest, error)
}

// SessionRepository persists connection sessions. Reads return rows as
// stored, including expired ones.
type SessionRepository interface {
	// Upsert inserts the session or refreshes server, account and expiry for
	// an existing key in a single statement.
	// Returns ErrAccountNotFound if the referenced account does not exist.
	Upsert(ctx context.Context, session *Session) error

	// SelectByKey returns ErrNotFound if no session exists for the key.
	SelectByKey(ctx context.Context, key SessionKey) (*Session, error)

	// SelectByAccount returns every session of the account.
	SelectByAccount(ctx context.Context, accountID int64) ([]*Session, error)

	// DeleteByKey reports whether a session was deleted.
	DeleteByKey(ctx context.Context, key SessionKey) (bool, error)

	// DeleteByAccount reports whether at least one session was deleted.
	DeleteByAccount(ctx context.Context, accountID int64) (bool, error)
}

// LegacyRepository is the read-only view over accounts of the deprecated
// format. It is consulted during registration to reject reserved names.
type LegacyRepository interface {
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// SelectPasswordByUsername returns the legacy digest.
	// Returns ErrNotFound if no legacy account has the name.
	SelectPasswordByUsername(ctx context.Context, username string) (*PasswordDigest, error)
}
