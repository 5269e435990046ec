// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// PasswordRequirement is one rule a new password must satisfy.
type PasswordRequirement interface {
	// Check reports whether the password satisfies the rule.
	Check(password string) bool
	// Describe is a human readable statement of the rule.
	Describe() string
}

// UsernameRequirement is one rule a new username must satisfy.
type UsernameRequirement interface {
	Check(username string) bool
	Describe() string
}

// PasswordLength bounds the number of characters in a password.
type PasswordLength struct {
	Min, Max int
}

func (r PasswordLength) Check(password string) bool {
	n := utf8.RuneCountInString(password)
	return n >= r.Min && n <= r.Max
}

func (r PasswordLength) Describe() string {
	return fmt.Sprintf("must be between %d and %d characters long", r.Min, r.Max)
}

// PasswordLowercase requires at least one lowercase letter.
type PasswordLowercase struct{}

func (PasswordLowercase) Check(password string) bool {
	return strings.IndexFunc(password, unicode.IsLower) >= 0
}

func (PasswordLowercase) Describe() string { return "must contain a lowercase letter" }

// PasswordUppercase requires at least one uppercase letter.
type PasswordUppercase struct{}

func (PasswordUppercase) Check(password string) bool {
	return strings.IndexFunc(password, unicode.IsUpper) >= 0
}

func (PasswordUppercase) Describe() string { return "must contain an uppercase letter" }

// PasswordNumber requires at least one digit.
type PasswordNumber struct{}

func (PasswordNumber) Check(password string) bool {
	return strings.IndexFunc(password, unicode.IsDigit) >= 0
}

func (PasswordNumber) Describe() string { return "must contain a number" }

// PasswordSymbol requires at least one character that is neither a letter,
// a digit nor whitespace.
type PasswordSymbol struct{}

func (PasswordSymbol) Check(password string) bool {
	return strings.IndexFunc(password, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
	}) >= 0
}

func (PasswordSymbol) Describe() string { return "must contain a symbol" }

// DefaultPasswordRequirements is the ordered policy applied to new passwords.
var DefaultPasswordRequirements = []PasswordRequirement{
	PasswordLength{Min: 8, Max: 64},
	PasswordLowercase{},
	PasswordUppercase{},
	PasswordNumber{},
	PasswordSymbol{},
}

// UsernameLength bounds the number of characters in a username.
type UsernameLength struct {
	Min, Max int
}

func (r UsernameLength) Check(username string) bool {
	n := utf8.RuneCountInString(username)
	return n >= r.Min && n <= r.Max
}

func (r UsernameLength) Describe() string {
	return fmt.Sprintf("must be between %d and %d characters long", r.Min, r.Max)
}

// UsernameSymbols allows letters, digits and the listed symbols only.
type UsernameSymbols struct {
	Allowed string
}

func (r UsernameSymbols) Check(username string) bool {
	for _, c := range username {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && !strings.ContainsRune(r.Allowed, c) {
			return false
		}
	}
	return true
}

func (r UsernameSymbols) Describe() string {
	if r.Allowed == "" {
		return "may only contain letters and digits"
	}
	return fmt.Sprintf("may only contain letters, digits and %q", r.Allowed)
}

// UsernameLowercase rejects uppercase letters.
type UsernameLowercase struct{}

func (UsernameLowercase) Check(username string) bool {
	return strings.IndexFunc(username, unicode.IsUpper) < 0
}

func (UsernameLowercase) Describe() string { return "must be all lowercase" }

// UsernameReserved is reported when the name belongs to a legacy account.
type UsernameReserved struct {
	Username string
}

func (r UsernameReserved) Check(username string) bool {
	return username != r.Username
}

func (r UsernameReserved) Describe() string {
	return fmt.Sprintf("%q is reserved by an existing legacy account", r.Username)
}

// UsernamePattern rejects names matching a reserved glob pattern such as
// "admin*".
type UsernamePattern struct {
	Pattern string
	matcher glob.Glob
}

// NewUsernamePattern compiles a reserved-name glob pattern.
func NewUsernamePattern(pattern string) (UsernamePattern, error) {
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return UsernamePattern{}, oops.Code("REQUIREMENT_INVALID_PATTERN").
			With("pattern", pattern).
			Wrap(err)
	}
	return UsernamePattern{Pattern: pattern, matcher: g}, nil
}

func (r UsernamePattern) Check(username string) bool {
	if r.matcher == nil {
		return true
	}
	return !r.matcher.Match(strings.ToLower(username))
}

func (r UsernamePattern) Describe() string {
	return fmt.Sprintf("must not match the reserved pattern %q", r.Pattern)
}

// DefaultUsernameRequirements is the ordered policy applied to new usernames.
var DefaultUsernameRequirements = []UsernameRequirement{
	UsernameSymbols{Allowed: "_"},
	UsernameLength{Min: 3, Max: 32},
	UsernameLowercase{},
}

// MissingPasswordRequirements returns every requirement the password fails,
// in policy order.
func MissingPasswordRequirements(reqs []PasswordRequirement, password string) []PasswordRequirement {
	var missing []PasswordRequirement
	for _, r := range reqs {
		if !r.Check(password) {
			missing = append(missing, r)
		}
	}
	return missing
}

// MissingUsernameRequirements returns every requirement the username fails,
// in policy order.
func MissingUsernameRequirements(reqs []UsernameRequirement, username string) []UsernameRequirement {
	var missing []UsernameRequirement
	for _, r := range reqs {
		if !r.Check(username) {
			missing = append(missing, r)
		}
	}
	return missing
}
