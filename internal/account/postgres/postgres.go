// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the account repositories on PostgreSQL.
//
// Every mutation runs in a read-committed transaction that locks the account
// row first, so a missing account is reported as account.ErrAccountNotFound
// before anything is written and concurrent revision bumps serialize.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
)

// Pool is the subset of *pgxpool.Pool the repositories use. pgxmock pools
// satisfy it as well.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var readCommitted = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Store groups the three repositories over one pool.
type Store struct {
	accounts *AccountRepository
	sessions *SessionRepository
	legacy   *LegacyRepository
}

// New creates a Store.
func New(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, oops.Code("STORE_INVALID_CONFIG").Errorf("pool is required")
	}
	return &Store{
		accounts: NewAccountRepository(pool),
		sessions: NewSessionRepository(pool),
		legacy:   NewLegacyRepository(pool),
	}, nil
}

func (s *Store) Accounts() *AccountRepository { return s.accounts }
func (s *Store) Sessions() *SessionRepository { return s.sessions }
func (s *Store) Legacy() *LegacyRepository    { return s.legacy }

func isViolation(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isUniqueViolation(err error) bool     { return isViolation(err, pgerrcode.UniqueViolation) }
func isForeignKeyViolation(err error) bool { return isViolation(err, pgerrcode.ForeignKeyViolation) }

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

// scanDigest decodes the three digest columns.
func scanDigest(hash, salt []byte, params string) (*account.PasswordDigest, error) {
	p, err := account.ParseHashParams(params)
	if err != nil {
		return nil, err
	}
	return &account.PasswordDigest{Hash: hash, Salt: salt, Params: p}, nil
}
