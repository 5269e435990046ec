// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/samber/oops"
)

// DefaultSessionValidity is how long a login stays valid.
const DefaultSessionValidity = 30 * 24 * time.Hour

// SessionKey identifies one physical client connection. Two keys are equal
// only if all three components match; the struct is comparable and used
// directly as a map key.
type SessionKey struct {
	UUID    string // connection UUID presented by the client
	USID    string // per-server connection instance id
	Address netip.Addr
}

// NewSessionKey creates a validated SessionKey.
func NewSessionKey(uuid, usid string, address netip.Addr) (SessionKey, error) {
	if uuid == "" {
		return SessionKey{}, oops.Code("SESSION_INVALID_KEY").Errorf("connection uuid cannot be empty")
	}
	if usid == "" {
		return SessionKey{}, oops.Code("SESSION_INVALID_KEY").Errorf("connection instance id cannot be empty")
	}
	if !address.IsValid() {
		return SessionKey{}, oops.Code("SESSION_INVALID_KEY").Errorf("network address is invalid")
	}
	return SessionKey{UUID: uuid, USID: usid, Address: address.Unmap().WithZone("")}, nil
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s@%s", k.UUID, k.USID, k.Address)
}

// Session is the authenticated binding of a connection to an account.
type Session struct {
	Key       SessionKey
	Server    string // identity of the server that issued the session
	AccountID int64
	ExpiresAt time.Time
}

// NewSession creates a validated Session.
func NewSession(key SessionKey, server string, accountID int64, expiresAt time.Time) (*Session, error) {
	if key == (SessionKey{}) {
		return nil, oops.Code("SESSION_INVALID_KEY").Errorf("session key cannot be zero")
	}
	if server == "" {
		return nil, oops.Code("SESSION_INVALID_SERVER").Errorf("serving server cannot be empty")
	}
	if accountID <= 0 {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT").
			With("account_id", accountID).
			Errorf("account id must be positive")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	return &Session{Key: key, Server: server, AccountID: accountID, ExpiresAt: expiresAt}, nil
}

// Expired reports whether the session is no longer valid at now.
// A session is valid only while now is strictly before ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
