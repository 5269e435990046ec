// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package account defines the account and session data model shared by every
// server process in a fleet.
//
// # Domain Types
//
//   - Account - a registered player and its profile projection
//   - PasswordDigest - a salted password hash tagged with the parameters used
//   - SessionKey / Session - a time-bounded binding of one connection to an account
//   - Result - the outcome of an authentication operation
//
// # Repositories
//
// AccountRepository, SessionRepository and LegacyRepository describe the
// transactional stores. Implementations live in the postgres and memstore
// subpackages. Session repositories return rows as stored; callers decide
// whether a session is still valid with Session.Expired.
package account
