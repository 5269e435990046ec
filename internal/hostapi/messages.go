// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostapi

import (
	"net/netip"

	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
)

// SessionKey identifies a host connection on the wire.
type SessionKey struct {
	UUID    string `json:"uuid"`
	USID    string `json:"usid"`
	Address string `json:"address"`
}

// KeyOf converts key for a request.
func KeyOf(key account.SessionKey) SessionKey {
	return SessionKey{UUID: key.UUID, USID: key.USID, Address: key.Address.String()}
}

func (k SessionKey) parse() (account.SessionKey, error) {
	addr, err := netip.ParseAddr(k.Address)
	if err != nil {
		return account.SessionKey{}, oops.Code("SESSION_INVALID_KEY").With("address", k.Address).Wrap(err)
	}
	return account.NewSessionKey(k.UUID, k.USID, addr)
}

// Account is the profile a host sees for a logged-in connection.
type Account struct {
	ID              int64             `json:"id"`
	Username        string            `json:"username"`
	Rank            string            `json:"rank"`
	Games           int               `json:"games"`
	PlaytimeSeconds int64             `json:"playtime_seconds"`
	Discord         *int64            `json:"discord,omitempty"`
	Achievements    []string          `json:"achievements"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Revision        int64             `json:"revision"`
}

func accountOf(acc account.Account) *Account {
	achievements := make([]string, 0)
	for _, a := range acc.Achievements.Slice() {
		achievements = append(achievements, a.String())
	}
	return &Account{
		ID:              acc.ID,
		Username:        acc.Username,
		Rank:            acc.Rank.String(),
		Games:           acc.Games,
		PlaytimeSeconds: int64(acc.Playtime.Seconds()),
		Discord:         acc.Discord,
		Achievements:    achievements,
		Metadata:        acc.Metadata,
		Revision:        acc.Revision,
	}
}

// HasAchievement reports whether name is among the completed achievements.
func (a *Account) HasAchievement(name string) bool {
	if a == nil {
		return false
	}
	for _, got := range a.Achievements {
		if got == name {
			return true
		}
	}
	return false
}

type ConnectRequest struct {
	Key SessionKey `json:"key"`
}

type DisconnectRequest struct {
	Key SessionKey `json:"key"`
	// Logout also ends the session, for hosts that do not remember logins.
	Logout bool `json:"logout"`
}

type DisconnectResponse struct {
	Success bool `json:"success"`
}

type LoginRequest struct {
	Key      SessionKey `json:"key"`
	Username string     `json:"username"`
	Password string     `json:"password"`
}

// LoginResponse reports the outcome of a login. Result is one of the
// account result labels; Error describes every outcome but success.
type LoginResponse struct {
	Success   bool     `json:"success"`
	Result    string   `json:"result"`
	AccountID int64    `json:"account_id,omitempty"`
	Error     string   `json:"error,omitempty"`
	Account   *Account `json:"account,omitempty"`
}

type LogoutRequest struct {
	Key SessionKey `json:"key"`
	// All ends every session of the account, fleet-wide.
	All bool `json:"all"`
}

type LogoutResponse struct {
	Success bool `json:"success"`
}

type GetRequest struct {
	Key SessionKey `json:"key"`
}

// SessionResponse is the cached view of one connection.
type SessionResponse struct {
	Authenticated bool     `json:"authenticated"`
	Account       *Account `json:"account,omitempty"`
}
