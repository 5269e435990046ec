// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
)

// selectAccount reads an account with its achievements and metadata folded
// into the same row.
const selectAccount = `
	SELECT a.id, a.username, a.discord, a.games, a.playtime, a.rank, a.legacy, a.revision, a.created_at,
	       COALESCE((SELECT array_agg(achievement ORDER BY achievement)
	                 FROM account_achievement WHERE account_id = a.id), '{}'),
	       COALESCE((SELECT jsonb_object_agg(key, value)
	                 FROM account_metadata WHERE account_id = a.id), '{}'::jsonb)
	FROM account a
`

// AccountRepository implements account.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Insert stores a new account with rank EVERYONE and revision 1.
func (r *AccountRepository) Insert(ctx context.Context, username string, digest account.PasswordDigest) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO account (username, password_hash, password_salt, password_params)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, username, digest.Hash, digest.Salt, digest.Params.String()).Scan(&id)
	if isUniqueViolation(err) {
		return 0, oops.Code("ACCOUNT_USERNAME_TAKEN").
			With("username", username).
			Wrap(account.ErrUsernameTaken)
	}
	if err != nil {
		return 0, oops.Code("ACCOUNT_INSERT_FAILED").
			With("operation", "insert account").
			With("username", username).
			Wrap(err)
	}
	return id, nil
}

// SelectByID retrieves an account by id.
func (r *AccountRepository) SelectByID(ctx context.Context, id int64) (*account.Account, error) {
	return r.selectOne(ctx, "select account by id", selectAccount+`WHERE a.id = $1`, id)
}

// SelectByUsername retrieves an account by exact username.
func (r *AccountRepository) SelectByUsername(ctx context.Context, username string) (*account.Account, error) {
	return r.selectOne(ctx, "select account by username", selectAccount+`WHERE a.username = $1`, username)
}

// SelectByDiscord retrieves the account linked to a chat identity.
func (r *AccountRepository) SelectByDiscord(ctx context.Context, discord int64) (*account.Account, error) {
	return r.selectOne(ctx, "select account by discord", selectAccount+`WHERE a.discord = $1`, discord)
}

func (r *AccountRepository) selectOne(ctx context.Context, operation, sql string, arg any) (*account.Account, error) {
	acc, err := scanAccount(r.pool.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(operation, "key", arg)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", operation).
			With("key", arg).
			Wrap(err)
	}
	return acc, nil
}

// scanAccount scans one account row. Callers handle pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		acc          account.Account
		playtime     int64
		rank         string
		achievements []string
		metadata     map[string]string
	)
	err := row.Scan(
		&acc.ID, &acc.Username, &acc.Discord, &acc.Games, &playtime, &rank,
		&acc.Legacy, &acc.Revision, &acc.CreatedAt, &achievements, &metadata,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}

	acc.Playtime = time.Duration(playtime) * time.Second
	if acc.Rank, err = account.ParseRank(rank); err != nil {
		return nil, err
	}
	for _, name := range achievements {
		a, err := account.ParseAchievement(name)
		if err != nil {
			return nil, err
		}
		acc.Achievements = acc.Achievements.With(a)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	acc.Metadata = metadata
	return &acc, nil
}

// ExistsByID reports whether the account exists.
func (r *AccountRepository) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM account WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", "account exists by id").
			With("account_id", id).
			Wrap(err)
	}
	return exists, nil
}

// ExistsByUsername reports whether the username is registered.
func (r *AccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM account WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", "account exists by username").
			With("username", username).
			Wrap(err)
	}
	return exists, nil
}

// mutate locks the account row, runs fn and bumps the revision when fn
// reports a change.
func (r *AccountRepository) mutate(ctx context.Context, operation string, id int64, fn func(tx pgx.Tx) (bool, error)) (bool, error) {
	var changed bool
	err := pgx.BeginTxFunc(ctx, r.pool, readCommitted, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM account WHERE id = $1 FOR UPDATE`, id).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return unknownAccount(id)
		}
		if err != nil {
			return err //nolint:wrapcheck // wrapped below
		}

		if changed, err = fn(tx); err != nil || !changed {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE account SET revision = revision + 1 WHERE id = $1`, id)
		return err //nolint:wrapcheck // wrapped below
	})
	if errors.Is(err, account.ErrAccountNotFound) {
		return false, err
	}
	if err != nil {
		return false, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", operation).
			With("account_id", id).
			Wrap(err)
	}
	return changed, nil
}

func affected(tag pgconn.CommandTag, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementGames adds one to the games counter.
func (r *AccountRepository) IncrementGames(ctx context.Context, id int64) (bool, error) {
	return r.mutate(ctx, "increment games", id, func(tx pgx.Tx) (bool, error) {
		return affected(tx.Exec(ctx, `UPDATE account SET games = games + 1 WHERE id = $1`, id))
	})
}

// IncrementPlaytime adds d, truncated to whole seconds.
func (r *AccountRepository) IncrementPlaytime(ctx context.Context, id int64, d time.Duration) (bool, error) {
	seconds := int64(d / time.Second)
	return r.mutate(ctx, "increment playtime", id, func(tx pgx.Tx) (bool, error) {
		if seconds == 0 {
			return false, nil
		}
		return affected(tx.Exec(ctx, `UPDATE account SET playtime = playtime + $2 WHERE id = $1`, id, seconds))
	})
}

// UpdateAchievement sets or clears one achievement.
func (r *AccountRepository) UpdateAchievement(ctx context.Context, id int64, achievement account.Achievement, completed bool) (bool, error) {
	return r.mutate(ctx, "update achievement", id, func(tx pgx.Tx) (bool, error) {
		if completed {
			return affected(tx.Exec(ctx, `
				INSERT INTO account_achievement (account_id, achievement)
				VALUES ($1, $2)
				ON CONFLICT (account_id, achievement) DO NOTHING
			`, id, achievement.String()))
		}
		return affected(tx.Exec(ctx,
			`DELETE FROM account_achievement WHERE account_id = $1 AND achievement = $2`,
			id, achievement.String()))
	})
}

// UpdateMetadata upserts one metadata entry.
func (r *AccountRepository) UpdateMetadata(ctx context.Context, id int64, key, value string) (bool, error) {
	return r.mutate(ctx, "update metadata", id, func(tx pgx.Tx) (bool, error) {
		return affected(tx.Exec(ctx, `
			INSERT INTO account_metadata (account_id, key, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_id, key) DO UPDATE SET value = EXCLUDED.value
			WHERE account_metadata.value IS DISTINCT FROM EXCLUDED.value
		`, id, key, value))
	})
}

// UpdateRank replaces the rank.
func (r *AccountRepository) UpdateRank(ctx context.Context, id int64, rank account.Rank) (bool, error) {
	return r.mutate(ctx, "update rank", id, func(tx pgx.Tx) (bool, error) {
		return affected(tx.Exec(ctx,
			`UPDATE account SET rank = $2 WHERE id = $1 AND rank <> $2`,
			id, rank.String()))
	})
}

// UpdateDiscord links the chat identity.
func (r *AccountRepository) UpdateDiscord(ctx context.Context, id int64, discord int64) (bool, error) {
	return r.mutate(ctx, "update discord", id, func(tx pgx.Tx) (bool, error) {
		return affected(tx.Exec(ctx,
			`UPDATE account SET discord = $2 WHERE id = $1 AND discord IS DISTINCT FROM $2`,
			id, discord))
	})
}

// UpdatePassword replaces the stored digest.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id int64, digest account.PasswordDigest) (bool, error) {
	return r.mutate(ctx, "update password", id, func(tx pgx.Tx) (bool, error) {
		return affected(tx.Exec(ctx, `
			UPDATE account SET password_hash = $2, password_salt = $3, password_params = $4
			WHERE id = $1
		`, id, digest.Hash, digest.Salt, digest.Params.String()))
	})
}

// SelectPasswordByID returns only the stored digest.
func (r *AccountRepository) SelectPasswordByID(ctx context.Context, id int64) (*account.PasswordDigest, error) {
	var (
		hash, salt []byte
		params     string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT password_hash, password_salt, password_params FROM account WHERE id = $1`, id,
	).Scan(&hash, &salt, &params)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("select password by id", "account_id", id)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", "select password by id").
			With("account_id", id).
			Wrap(err)
	}
	digest, err := scanDigest(hash, salt, params)
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", "decode password params").
			With("account_id", id).
			Wrap(err)
	}
	return digest, nil
}

var _ account.AccountRepository = (*AccountRepository)(nil)
