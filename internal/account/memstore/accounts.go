// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memstore

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
)

// AccountRepository implements account.AccountRepository in memory.
type AccountRepository struct {
	s *Store
}

// Insert creates an account and returns its id.
func (r *AccountRepository) Insert(ctx context.Context, username string, digest account.PasswordDigest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Code("ACCOUNT_INSERT_FAILED").With("operation", "insert account").Wrap(err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.byName[username]; ok {
		return 0, oops.Code("ACCOUNT_USERNAME_TAKEN").
			With("username", username).
			Wrap(account.ErrUsernameTaken)
	}
	r.s.nextID++
	id := r.s.nextID
	r.s.accounts[id] = &accountRow{
		account: account.Account{
			ID:        id,
			Username:  username,
			Rank:      account.RankEveryone,
			Metadata:  map[string]string{},
			CreatedAt: r.s.now().UTC(),
			Revision:  1,
		},
		digest: cloneDigest(digest),
	}
	r.s.byName[username] = id
	return id, nil
}

// SelectByID returns a snapshot of the account.
func (r *AccountRepository) SelectByID(ctx context.Context, id int64) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").With("operation", "select account by id").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	row, ok := r.s.accounts[id]
	if !ok {
		return nil, notFound("select account by id", "account_id", id)
	}
	return row.account.Clone(), nil
}

// SelectByUsername returns a snapshot of the account.
func (r *AccountRepository) SelectByUsername(ctx context.Context, username string) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").With("operation", "select account by username").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byName[username]
	if !ok {
		return nil, notFound("select account by username", "username", username)
	}
	return r.s.accounts[id].account.Clone(), nil
}

// SelectByDiscord returns a snapshot of the account linked to discord.
func (r *AccountRepository) SelectByDiscord(ctx context.Context, discord int64) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").With("operation", "select account by discord").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, row := range r.s.accounts {
		if row.account.Discord != nil && *row.account.Discord == discord {
			return row.account.Clone(), nil
		}
	}
	return nil, notFound("select account by discord", "discord", discord)
}

// ExistsByID reports whether the account exists.
func (r *AccountRepository) ExistsByID(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oops.Code("ACCOUNT_QUERY_FAILED").With("operation", "account exists by id").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.accounts[id]
	return ok, nil
}

// ExistsByUsername reports whether the username is registered.
func (r *AccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oops.Code("ACCOUNT_QUERY_FAILED").With("operation", "account exists by username").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.byName[username]
	return ok, nil
}

// mutate runs fn against the row under the write lock. fn reports whether it
// changed anything; changed rows get a new revision.
func (r *AccountRepository) mutate(ctx context.Context, operation string, id int64, fn func(row *accountRow) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oops.Code("ACCOUNT_UPDATE_FAILED").With("operation", operation).Wrap(err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.accounts[id]
	if !ok {
		return false, unknownAccount(id)
	}
	if !fn(row) {
		return false, nil
	}
	row.account.Revision++
	return true, nil
}

// IncrementGames adds one to the games counter.
func (r *AccountRepository) IncrementGames(ctx context.Context, id int64) (bool, error) {
	return r.mutate(ctx, "increment games", id, func(row *accountRow) bool {
		row.account.Games++
		return true
	})
}

// IncrementPlaytime adds d, truncated to whole seconds.
func (r *AccountRepository) IncrementPlaytime(ctx context.Context, id int64, d time.Duration) (bool, error) {
	d = d.Truncate(time.Second)
	return r.mutate(ctx, "increment playtime", id, func(row *accountRow) bool {
		if d == 0 {
			return false
		}
		row.account.Playtime += d
		return true
	})
}

// UpdateAchievement sets or clears one achievement.
func (r *AccountRepository) UpdateAchievement(ctx context.Context, id int64, achievement account.Achievement, completed bool) (bool, error) {
	return r.mutate(ctx, "update achievement", id, func(row *accountRow) bool {
		if row.account.Achievements.Has(achievement) == completed {
			return false
		}
		if completed {
			row.account.Achievements = row.account.Achievements.With(achievement)
		} else {
			row.account.Achievements = row.account.Achievements.Without(achievement)
		}
		return true
	})
}

// UpdateMetadata upserts one metadata entry.
func (r *AccountRepository) UpdateMetadata(ctx context.Context, id int64, key, value string) (bool, error) {
	return r.mutate(ctx, "update metadata", id, func(row *accountRow) bool {
		if current, ok := row.account.Metadata[key]; ok && current == value {
			return false
		}
		if row.account.Metadata == nil {
			row.account.Metadata = map[string]string{}
		}
		row.account.Metadata[key] = value
		return true
	})
}

// UpdateRank replaces the rank.
func (r *AccountRepository) UpdateRank(ctx context.Context, id int64, rank account.Rank) (bool, error) {
	return r.mutate(ctx, "update rank", id, func(row *accountRow) bool {
		if row.account.Rank == rank {
			return false
		}
		row.account.Rank = rank
		return true
	})
}

// UpdateDiscord links the chat identity.
func (r *AccountRepository) UpdateDiscord(ctx context.Context, id int64, discord int64) (bool, error) {
	return r.mutate(ctx, "update discord", id, func(row *accountRow) bool {
		if row.account.Discord != nil && *row.account.Discord == discord {
			return false
		}
		row.account.Discord = &discord
		return true
	})
}

// UpdatePassword replaces the stored digest.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id int64, digest account.PasswordDigest) (bool, error) {
	return r.mutate(ctx, "update password", id, func(row *accountRow) bool {
		row.digest = cloneDigest(digest)
		return true
	})
}

// SelectPasswordByID returns a copy of the stored digest.
func (r *AccountRepository) SelectPasswordByID(ctx context.Context, id int64) (*account.PasswordDigest, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").With("operation", "select password by id").Wrap(err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	row, ok := r.s.accounts[id]
	if !ok {
		return nil, notFound("select password by id", "account_id", id)
	}
	d := cloneDigest(row.digest)
	return &d, nil
}

var _ account.AccountRepository = (*AccountRepository)(nil)
