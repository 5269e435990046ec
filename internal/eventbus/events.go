// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package eventbus distributes account and session domain events within a
// process and across the server fleet.
//
// Delivery is at-least-once and unordered. Handlers must tolerate duplicates
// and events that arrive after a newer one for the same account.
package eventbus

import (
	"github.com/holomush/fleetauth/internal/account"
)

// EventType names an event on the wire and in subscriptions.
type EventType string

// Event types.
const (
	TypeAccountChanged     EventType = "account.changed"
	TypeAchievementChanged EventType = "account.achievement_changed"
	TypeRankChanged        EventType = "account.rank_changed"
	TypeSessionLogin       EventType = "session.login"
	TypeSessionLogout      EventType = "session.logout"
)

// Event is a domain event.
type Event interface {
	Type() EventType
	// Account is the id of the account the event is about.
	Account() int64
}

// Scope selects who receives a published event.
type Scope uint8

// Scopes.
const (
	// ScopeLocal delivers to handlers in this process only.
	ScopeLocal Scope = iota
	// ScopeFleet delivers to handlers in every process, this one included.
	ScopeFleet
)

func (s Scope) String() string {
	switch s {
	case ScopeLocal:
		return "local"
	case ScopeFleet:
		return "fleet"
	default:
		return "unknown"
	}
}

// AccountChanged is published after any stored change to an account.
type AccountChanged struct {
	AccountID int64 `json:"account_id"`
}

// AchievementChanged is published when an achievement is granted or revoked.
type AchievementChanged struct {
	AccountID   int64               `json:"account_id"`
	Achievement account.Achievement `json:"achievement"`
	Completed   bool                `json:"completed"`
}

// RankChanged is published when an account's rank is replaced.
type RankChanged struct {
	AccountID int64        `json:"account_id"`
	Rank      account.Rank `json:"rank"`
}

// SessionLogin is published after a session was issued for Key.
type SessionLogin struct {
	Key       account.SessionKey `json:"key"`
	AccountID int64              `json:"account_id"`
}

// SessionLogout is published after one (or, with All, every) session of the
// account was deleted.
type SessionLogout struct {
	Key       account.SessionKey `json:"key"`
	AccountID int64              `json:"account_id"`
	All       bool               `json:"all"`
}

func (AccountChanged) Type() EventType     { return TypeAccountChanged }
func (AchievementChanged) Type() EventType { return TypeAchievementChanged }
func (RankChanged) Type() EventType        { return TypeRankChanged }
func (SessionLogin) Type() EventType       { return TypeSessionLogin }
func (SessionLogout) Type() EventType      { return TypeSessionLogout }

func (e AccountChanged) Account() int64     { return e.AccountID }
func (e AchievementChanged) Account() int64 { return e.AccountID }
func (e RankChanged) Account() int64        { return e.AccountID }
func (e SessionLogin) Account() int64       { return e.AccountID }
func (e SessionLogout) Account() int64      { return e.AccountID }
