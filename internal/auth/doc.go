// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth authenticates accounts and owns their sessions.
//
// # Results
//
// Login, Register and ChangePassword report expected outcomes (unknown user,
// wrong password, rejected username) as an account.Result and reserve the
// error return for store, hashing and bus faults. Callers switch on the
// result type or use Result.Visit.
//
// # Sessions
//
// Service is the only writer of sessions. Every login and logout is published
// to the fleet so that each server's session cache can react; expired
// sessions are treated as absent on every read.
//
// # Passwords
//
// Digests are argon2id with per-account salts. Legacy digests (pbkdf2) can be
// checked through VerifyLegacy but are never issued.
package auth
