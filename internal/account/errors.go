// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAccountNotFound is returned when a mutation references an account id
// that does not exist. It is an integrity fault raised by the caller, not a
// domain outcome.
var ErrAccountNotFound = errors.New("unknown account id")

// ErrUsernameTaken is returned when inserting an account whose username is
// already registered.
var ErrUsernameTaken = errors.New("username already registered")
