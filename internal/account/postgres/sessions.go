// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
)

// SessionRepository implements account.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Upsert inserts or refreshes the session in one statement. The insert only
// happens if the account exists; zero affected rows means it does not.
func (r *SessionRepository) Upsert(ctx context.Context, session *account.Session) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO account_session (uuid, usid, address, server, account_id, expires_at)
		SELECT $1, $2, $3::inet, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM account WHERE id = $5)
		ON CONFLICT (uuid, usid, address) DO UPDATE
		SET server = EXCLUDED.server, account_id = EXCLUDED.account_id, expires_at = EXCLUDED.expires_at
	`,
		session.Key.UUID,
		session.Key.USID,
		inetParam(session.Key.Address),
		session.Server,
		session.AccountID,
		session.ExpiresAt,
	)
	if isForeignKeyViolation(err) {
		// The account was deleted between the existence check and the insert.
		return unknownAccount(session.AccountID)
	}
	if err != nil {
		return oops.Code("SESSION_UPSERT_FAILED").
			With("operation", "upsert session").
			With("session", session.Key.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return unknownAccount(session.AccountID)
	}
	return nil
}

// SelectByKey returns the stored session, expired or not.
func (r *SessionRepository) SelectByKey(ctx context.Context, key account.SessionKey) (*account.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT uuid, usid, host(address), server, account_id, expires_at
		FROM account_session
		WHERE uuid = $1 AND usid = $2 AND address = $3::inet
	`, key.UUID, key.USID, inetParam(key.Address))

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("select session by key", "session", key.String())
	}
	if err != nil {
		return nil, oops.Code("SESSION_QUERY_FAILED").
			With("operation", "select session by key").
			With("session", key.String()).
			Wrap(err)
	}
	return session, nil
}

// SelectByAccount returns every session of the account ordered by expiry.
func (r *SessionRepository) SelectByAccount(ctx context.Context, accountID int64) ([]*account.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT uuid, usid, host(address), server, account_id, expires_at
		FROM account_session
		WHERE account_id = $1
		ORDER BY expires_at
	`, accountID)
	if err != nil {
		return nil, oops.Code("SESSION_QUERY_FAILED").
			With("operation", "select sessions by account").
			With("account_id", accountID).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*account.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").
				With("operation", "scan session row").
				Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").
			With("operation", "iterate session rows").
			Wrap(err)
	}
	return sessions, nil
}

// scanSession scans one session row. Callers handle pgx.ErrNoRows.
func scanSession(row pgx.Row) (*account.Session, error) {
	var (
		s         account.Session
		address   string
		expiresAt time.Time
	)
	if err := row.Scan(&s.Key.UUID, &s.Key.USID, &address, &s.Server, &s.AccountID, &expiresAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context-specific info
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ADDRESS").With("address", address).Wrap(err)
	}
	s.Key.Address = addr
	s.ExpiresAt = expiresAt.UTC()
	return &s, nil
}

// DeleteByKey reports whether a session was deleted.
func (r *SessionRepository) DeleteByKey(ctx context.Context, key account.SessionKey) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM account_session
		WHERE uuid = $1 AND usid = $2 AND address = $3::inet
	`, key.UUID, key.USID, inetParam(key.Address))
	if err != nil {
		return false, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session by key").
			With("session", key.String()).
			Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteByAccount reports whether at least one session was deleted.
func (r *SessionRepository) DeleteByAccount(ctx context.Context, accountID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM account_session WHERE account_id = $1`, accountID)
	if err != nil {
		return false, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete sessions by account").
			With("account_id", accountID).
			Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ account.SessionRepository = (*SessionRepository)(nil)

// LegacyRepository implements account.LegacyRepository over the read-only
// legacy_account table.
type LegacyRepository struct {
	pool Pool
}

// NewLegacyRepository creates a new LegacyRepository.
func NewLegacyRepository(pool Pool) *LegacyRepository {
	return &LegacyRepository{pool: pool}
}

// ExistsByUsername reports whether a legacy account has the name.
func (r *LegacyRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM legacy_account WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, oops.Code("LEGACY_QUERY_FAILED").
			With("operation", "legacy exists by username").
			With("username", username).
			Wrap(err)
	}
	return exists, nil
}

// SelectPasswordByUsername returns the legacy digest.
func (r *LegacyRepository) SelectPasswordByUsername(ctx context.Context, username string) (*account.PasswordDigest, error) {
	var (
		hash, salt []byte
		params     string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT password_hash, password_salt, password_params FROM legacy_account WHERE username = $1`, username,
	).Scan(&hash, &salt, &params)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("legacy password by username", "username", username)
	}
	if err != nil {
		return nil, oops.Code("LEGACY_QUERY_FAILED").
			With("operation", "legacy password by username").
			With("username", username).
			Wrap(err)
	}
	digest, err := scanDigest(hash, salt, params)
	if err != nil {
		return nil, oops.Code("LEGACY_QUERY_FAILED").
			With("operation", "decode legacy params").
			With("username", username).
			Wrap(err)
	}
	return digest, nil
}

var _ account.LegacyRepository = (*LegacyRepository)(nil)

// inetParam renders addr for an ::inet parameter. The inet type has no zone
// syntax, so an IPv6 zone is dropped.
func inetParam(addr netip.Addr) string {
	return addr.WithZone("").String()
}
