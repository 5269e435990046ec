// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/internal/eventbus"
	"github.com/holomush/fleetauth/pkg/errutil"
)

var tracer = otel.Tracer("fleetauth/auth")

// Options configures a Service. Zero values select the defaults.
type Options struct {
	// ServerName is stamped into every session issued by this process.
	ServerName string
	// SessionValidity is how long a login lasts.
	SessionValidity time.Duration

	PasswordRequirements []account.PasswordRequirement
	UsernameRequirements []account.UsernameRequirement

	Logger *slog.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// Service implements login, logout, registration and password changes. It
// is the only writer of sessions and the only publisher of session events.
type Service struct {
	accounts account.AccountRepository
	sessions account.SessionRepository
	legacy   account.LegacyRepository
	hasher   PasswordHasher
	events   eventbus.Publisher

	server       string
	validity     time.Duration
	passwordReqs []account.PasswordRequirement
	usernameReqs []account.UsernameRequirement
	logger       *slog.Logger
	now          func() time.Time

	// dummy is verified against when the username does not exist so that
	// NotFound and WrongPassword take the same time.
	dummy account.PasswordDigest
}

// NewService creates a Service. All collaborators are required.
func NewService(
	accounts account.AccountRepository,
	sessions account.SessionRepository,
	legacy account.LegacyRepository,
	hasher PasswordHasher,
	events eventbus.Publisher,
	opts Options,
) (*Service, error) {
	switch {
	case accounts == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("account repository is required")
	case sessions == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session repository is required")
	case legacy == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("legacy repository is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	case events == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("event publisher is required")
	case opts.ServerName == "":
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("server name is required")
	}

	if opts.SessionValidity <= 0 {
		opts.SessionValidity = account.DefaultSessionValidity
	}
	if opts.PasswordRequirements == nil {
		opts.PasswordRequirements = account.DefaultPasswordRequirements
	}
	if opts.UsernameRequirements == nil {
		opts.UsernameRequirements = account.DefaultUsernameRequirements
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dummy, err := hasher.Hash("timing-equalizer")
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").
			With("operation", "derive dummy digest").
			Wrap(err)
	}

	return &Service{
		accounts:     accounts,
		sessions:     sessions,
		legacy:       legacy,
		hasher:       hasher,
		events:       events,
		server:       opts.ServerName,
		validity:     opts.SessionValidity,
		passwordReqs: opts.PasswordRequirements,
		usernameReqs: opts.UsernameRequirements,
		logger:       opts.Logger.With("component", "auth", "server", opts.ServerName),
		now:          opts.Now,
		dummy:        dummy,
	}, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, r account.Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if r != nil {
		span.SetAttributes(attribute.String("auth.result", account.Label(r)))
	}
	span.End()
}

// Login authenticates username on the connection identified by key.
//
// A connection that already holds an unexpired session gets AlreadyLoggedIn.
// On success a session valid for the configured window is stored and a
// SessionLogin event is published to the fleet.
func (s *Service) Login(ctx context.Context, key account.SessionKey, username, password string) (result account.Result, err error) {
	ctx, span := startSpan(ctx, "auth.login", attribute.String("session.key", key.String()))
	defer func() {
		recordOutcome("login", result, err)
		endSpan(span, result, err)
	}()

	existing, err := s.sessions.SelectByKey(ctx, key)
	switch {
	case err == nil && !existing.Expired(s.now()):
		return account.AlreadyLoggedIn{}, nil
	case err != nil && !errors.Is(err, account.ErrNotFound):
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "select session by key").
			With("session", key.String()).
			Wrap(err)
	}

	acc, err := s.accounts.SelectByUsername(ctx, username)
	if errors.Is(err, account.ErrNotFound) {
		s.burnVerify(password)
		return account.NotFound{}, nil
	}
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "select account by username").
			Wrap(err)
	}

	digest, err := s.accounts.SelectPasswordByID(ctx, acc.ID)
	if errors.Is(err, account.ErrNotFound) {
		return account.NotFound{}, nil
	}
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "select password").
			With("account_id", acc.ID).
			Wrap(err)
	}

	ok, err := s.verify("login", password, *digest)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", acc.ID).
			Wrap(err)
	}
	if !ok {
		s.logger.InfoContext(ctx, "login rejected", "account_id", acc.ID, "reason", "wrong_password")
		return account.WrongPassword{}, nil
	}

	session, err := account.NewSession(key, s.server, acc.ID, s.now().Add(s.validity))
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Upsert(ctx, session); err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "upsert session").
			With("account_id", acc.ID).
			Wrap(err)
	}

	if err := s.events.Publish(ctx, eventbus.SessionLogin{Key: key, AccountID: acc.ID}, eventbus.ScopeFleet); err != nil {
		return nil, oops.Code("AUTH_EVENT_FAILED").
			With("operation", "publish session login").
			With("account_id", acc.ID).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", acc.ID,
		"session", key.String(),
		"expires_at", session.ExpiresAt,
	)
	return account.Success{AccountID: acc.ID}, nil
}

// burnVerify spends the same time as a real verification.
func (s *Service) burnVerify(password string) {
	_, _ = s.verify("login", password, s.dummy) //nolint:errcheck // result intentionally discarded
}

func (s *Service) verify(operation, password string, digest account.PasswordDigest) (bool, error) {
	defer observeHash(operation, time.Now())
	return s.hasher.Verify(password, digest)
}

func (s *Service) hash(operation, password string) (account.PasswordDigest, error) {
	defer observeHash(operation, time.Now())
	return s.hasher.Hash(password)
}

// Logout ends the session at key. With all set, every session of the account
// behind key is ended. Logging out a connection without a session is a
// no-op. A SessionLogout event is published only if something was deleted.
func (s *Service) Logout(ctx context.Context, key account.SessionKey, all bool) (err error) {
	ctx, span := startSpan(ctx, "auth.logout",
		attribute.String("session.key", key.String()),
		attribute.Bool("auth.logout_all", all),
	)
	defer func() {
		if err != nil {
			faults.WithLabelValues("logout").Inc()
		}
		endSpan(span, nil, err)
	}()

	session, err := s.sessions.SelectByKey(ctx, key)
	if errors.Is(err, account.ErrNotFound) {
		return nil
	}
	if err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "select session by key").
			With("session", key.String()).
			Wrap(err)
	}

	// An expired session no longer speaks for its account.
	if all && session.Expired(s.now()) {
		all = false
	}

	var deleted bool
	if all {
		deleted, err = s.sessions.DeleteByAccount(ctx, session.AccountID)
	} else {
		deleted, err = s.sessions.DeleteByKey(ctx, key)
	}
	if err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("account_id", session.AccountID).
			With("all", all).
			Wrap(err)
	}
	if !deleted {
		return nil
	}

	scope := "key"
	if all {
		scope = "account"
	}
	logouts.WithLabelValues(scope).Inc()

	event := eventbus.SessionLogout{Key: key, AccountID: session.AccountID, All: all}
	if err := s.events.Publish(ctx, event, eventbus.ScopeFleet); err != nil {
		return oops.Code("AUTH_EVENT_FAILED").
			With("operation", "publish session logout").
			With("account_id", session.AccountID).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "logout", "account_id", session.AccountID, "session", key.String(), "all", all)
	return nil
}

// Register creates an account. Checks run in order: username taken, name
// reserved by a legacy account, password requirements, username
// requirements. Each failing requirement list is reported in full.
func (s *Service) Register(ctx context.Context, username, password string) (result account.Result, err error) {
	ctx, span := startSpan(ctx, "auth.register")
	defer func() {
		recordOutcome("register", result, err)
		endSpan(span, result, err)
	}()

	exists, err := s.accounts.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "account exists by username").
			Wrap(err)
	}
	if exists {
		return account.AlreadyRegistered{}, nil
	}

	reserved, err := s.legacy.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "legacy exists by username").
			Wrap(err)
	}
	if reserved {
		return account.InvalidUsername{
			Reasons: []account.UsernameRequirement{account.UsernameReserved{Username: username}},
		}, nil
	}

	if missing := account.MissingPasswordRequirements(s.passwordReqs, password); len(missing) > 0 {
		return account.InvalidPassword{Reasons: missing}, nil
	}
	if missing := account.MissingUsernameRequirements(s.usernameReqs, username); len(missing) > 0 {
		return account.InvalidUsername{Reasons: missing}, nil
	}

	digest, err := s.hash("register", password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	id, err := s.accounts.Insert(ctx, username, digest)
	if errors.Is(err, account.ErrUsernameTaken) {
		// Lost a race with a concurrent registration of the same name.
		return account.AlreadyRegistered{}, nil
	}
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", id, "username", username)
	return account.Success{AccountID: id}, nil
}

// ChangePassword replaces the password of account id after verifying the
// old one. The new digest always gets a fresh salt.
func (s *Service) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) (result account.Result, err error) {
	ctx, span := startSpan(ctx, "auth.change_password", attribute.Int64("account.id", id))
	defer func() {
		recordOutcome("change_password", result, err)
		endSpan(span, result, err)
	}()

	current, err := s.accounts.SelectPasswordByID(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return account.NotFound{}, nil
	}
	if err != nil {
		return nil, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "select password").
			With("account_id", id).
			Wrap(err)
	}

	ok, err := s.verify("change_password", oldPassword, *current)
	if err != nil {
		return nil, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			With("account_id", id).
			Wrap(err)
	}
	if !ok {
		return account.WrongPassword{}, nil
	}

	if missing := account.MissingPasswordRequirements(s.passwordReqs, newPassword); len(missing) > 0 {
		return account.InvalidPassword{Reasons: missing}, nil
	}

	digest, err := s.hash("change_password", newPassword)
	if err != nil {
		return nil, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "hash password").
			With("account_id", id).
			Wrap(err)
	}
	if _, err := s.accounts.UpdatePassword(ctx, id, digest); err != nil {
		return nil, oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update password").
			With("account_id", id).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password changed", "account_id", id)
	return account.Success{AccountID: id}, nil
}

// SelectSession returns the unexpired session at key. A missing or expired
// session yields an error wrapping account.ErrNotFound.
func (s *Service) SelectSession(ctx context.Context, key account.SessionKey) (*account.Session, error) {
	session, err := s.sessions.SelectByKey(ctx, key)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, err
		}
		return nil, oops.Code("AUTH_SESSION_QUERY_FAILED").
			With("operation", "select session by key").
			With("session", key.String()).
			Wrap(err)
	}
	if session.Expired(s.now()) {
		return nil, oops.Code("SESSION_EXPIRED").
			With("session", key.String()).
			With("expires_at", session.ExpiresAt).
			Wrap(account.ErrNotFound)
	}
	return session, nil
}

// SelectSessions returns the unexpired sessions of the account.
func (s *Service) SelectSessions(ctx context.Context, accountID int64) ([]*account.Session, error) {
	all, err := s.sessions.SelectByAccount(ctx, accountID)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_QUERY_FAILED").
			With("operation", "select sessions by account").
			With("account_id", accountID).
			Wrap(err)
	}
	now := s.now()
	valid := all[:0:0]
	for _, session := range all {
		if !session.Expired(now) {
			valid = append(valid, session)
		}
	}
	return valid, nil
}

// SelectAccount returns the account with the given id.
func (s *Service) SelectAccount(ctx context.Context, id int64) (*account.Account, error) {
	acc, err := s.accounts.SelectByID(ctx, id)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		return nil, oops.Code("AUTH_ACCOUNT_QUERY_FAILED").
			With("operation", "select account by id").
			With("account_id", id).
			Wrap(err)
	}
	return acc, err
}

// SelectAccountBySession resolves the account behind an unexpired session.
// Anonymous connections yield an error wrapping account.ErrNotFound.
func (s *Service) SelectAccountBySession(ctx context.Context, key account.SessionKey) (*account.Account, error) {
	session, err := s.SelectSession(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.SelectAccount(ctx, session.AccountID)
}

// VerifyLegacy checks a password against the legacy account of username.
// It reports false when no legacy account has the name.
func (s *Service) VerifyLegacy(ctx context.Context, username, password string) (bool, error) {
	digest, err := s.legacy.SelectPasswordByUsername(ctx, username)
	if errors.Is(err, account.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("AUTH_LEGACY_FAILED").
			With("operation", "legacy password by username").
			Wrap(err)
	}
	ok, err := s.verify("legacy", password, *digest)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "legacy digest could not be verified", err, "username", username)
		return false, oops.Code("AUTH_LEGACY_FAILED").
			With("operation", "verify legacy password").
			Wrap(err)
	}
	return ok, nil
}
