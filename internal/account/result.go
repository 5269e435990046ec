// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"fmt"
	"strings"
)

// Result is the outcome of an authentication operation. Exactly one of the
// variants below is returned; none of them carries partial success.
//
// The set of variants is closed: the marker method is unexported. Callers
// that must handle every case implement ResultVisitor, which the compiler
// checks for completeness, and call Visit.
type Result interface {
	// Visit dispatches to the visitor method matching the variant.
	Visit(v ResultVisitor)
	fmt.Stringer
	isResult()
}

// ResultVisitor has one method per Result variant.
type ResultVisitor interface {
	Success(r Success)
	NotFound(r NotFound)
	WrongPassword(r WrongPassword)
	AlreadyLoggedIn(r AlreadyLoggedIn)
	AlreadyRegistered(r AlreadyRegistered)
	InvalidUsername(r InvalidUsername)
	InvalidPassword(r InvalidPassword)
}

// Success carries the account the operation applied to.
type Success struct {
	AccountID int64
}

// NotFound means no account matched.
type NotFound struct{}

// WrongPassword means the account exists but the password did not verify.
type WrongPassword struct{}

// AlreadyLoggedIn means the connection already holds a valid session.
type AlreadyLoggedIn struct{}

// AlreadyRegistered means the username is taken.
type AlreadyRegistered struct{}

// InvalidUsername lists every username requirement that was not met.
type InvalidUsername struct {
	Reasons []UsernameRequirement
}

// InvalidPassword lists every password requirement that was not met.
type InvalidPassword struct {
	Reasons []PasswordRequirement
}

func (Success) isResult()           {}
func (NotFound) isResult()          {}
func (WrongPassword) isResult()     {}
func (AlreadyLoggedIn) isResult()   {}
func (AlreadyRegistered) isResult() {}
func (InvalidUsername) isResult()   {}
func (InvalidPassword) isResult()   {}

func (r Success) Visit(v ResultVisitor)           { v.Success(r) }
func (r NotFound) Visit(v ResultVisitor)          { v.NotFound(r) }
func (r WrongPassword) Visit(v ResultVisitor)     { v.WrongPassword(r) }
func (r AlreadyLoggedIn) Visit(v ResultVisitor)   { v.AlreadyLoggedIn(r) }
func (r AlreadyRegistered) Visit(v ResultVisitor) { v.AlreadyRegistered(r) }
func (r InvalidUsername) Visit(v ResultVisitor)   { v.InvalidUsername(r) }
func (r InvalidPassword) Visit(v ResultVisitor)   { v.InvalidPassword(r) }

func (r Success) String() string         { return fmt.Sprintf("success(%d)", r.AccountID) }
func (NotFound) String() string          { return "not_found" }
func (WrongPassword) String() string     { return "wrong_password" }
func (AlreadyLoggedIn) String() string   { return "already_logged_in" }
func (AlreadyRegistered) String() string { return "already_registered" }

func (r InvalidUsername) String() string {
	names := make([]string, len(r.Reasons))
	for i, req := range r.Reasons {
		names[i] = req.Describe()
	}
	return "invalid_username(" + strings.Join(names, "; ") + ")"
}

func (r InvalidPassword) String() string {
	names := make([]string, len(r.Reasons))
	for i, req := range r.Reasons {
		names[i] = req.Describe()
	}
	return "invalid_password(" + strings.Join(names, "; ") + ")"
}

// Label returns a short, bounded-cardinality name for the variant, suitable
// for metric labels and log fields.
func Label(r Result) string {
	switch r.(type) {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case WrongPassword:
		return "wrong_password"
	case AlreadyLoggedIn:
		return "already_logged_in"
	case AlreadyRegistered:
		return "already_registered"
	case InvalidUsername:
		return "invalid_username"
	case InvalidPassword:
		return "invalid_password"
	default:
		return "unknown"
	}
}
