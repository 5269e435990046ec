// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/pkg/errutil"
)

func TestNewSessionKey(t *testing.T) {
	addr := netip.MustParseAddr("192.168.1.10")

	t.Run("valid key", func(t *testing.T) {
		key, err := account.NewSessionKey("uuid", "usid", addr)
		require.NoError(t, err)
		assert.Equal(t, "uuid/usid@192.168.1.10", key.String())
	})

	t.Run("unmaps ipv4-in-ipv6", func(t *testing.T) {
		key, err := account.NewSessionKey("uuid", "usid", netip.MustParseAddr("::ffff:192.168.1.10"))
		require.NoError(t, err)
		assert.Equal(t, addr, key.Address)
	})

	t.Run("drops the ipv6 zone", func(t *testing.T) {
		key, err := account.NewSessionKey("uuid", "usid", netip.MustParseAddr("fe80::1%eth0"))
		require.NoError(t, err)
		assert.Equal(t, netip.MustParseAddr("fe80::1"), key.Address)
		assert.Equal(t, "uuid/usid@fe80::1", key.String())
	})

	tests := []struct {
		name string
		uuid string
		usid string
		addr netip.Addr
	}{
		{"empty uuid", "", "usid", addr},
		{"empty usid", "uuid", "", addr},
		{"invalid address", "uuid", "usid", netip.Addr{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := account.NewSessionKey(tt.uuid, tt.usid, tt.addr)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "SESSION_INVALID_KEY")
		})
	}
}

func TestSessionKey_Equality(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")
	a := account.SessionKey{UUID: "u", USID: "s", Address: addr}

	assert.Equal(t, a, account.SessionKey{UUID: "u", USID: "s", Address: addr})
	assert.NotEqual(t, a, account.SessionKey{UUID: "u", USID: "x", Address: addr})
	assert.NotEqual(t, a, account.SessionKey{UUID: "x", USID: "s", Address: addr})
	assert.NotEqual(t, a, account.SessionKey{UUID: "u", USID: "s", Address: netip.MustParseAddr("10.0.0.2")})
}

func TestNewSession(t *testing.T) {
	key := account.SessionKey{UUID: "u", USID: "s", Address: netip.MustParseAddr("10.0.0.1")}
	expires := time.Now().Add(time.Hour)

	tests := []struct {
		name      string
		key       account.SessionKey
		server    string
		accountID int64
		expiresAt time.Time
		wantCode  string
	}{
		{"zero key", account.SessionKey{}, "hub", 1, expires, "SESSION_INVALID_KEY"},
		{"empty server", key, "", 1, expires, "SESSION_INVALID_SERVER"},
		{"non-positive account", key, "hub", 0, expires, "SESSION_INVALID_ACCOUNT"},
		{"zero expiry", key, "hub", 1, time.Time{}, "SESSION_INVALID_EXPIRY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := account.NewSession(tt.key, tt.server, tt.accountID, tt.expiresAt)
			require.Error(t, err)
			assert.Nil(t, s)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}

	t.Run("valid session", func(t *testing.T) {
		s, err := account.NewSession(key, "hub", 5, expires)
		require.NoError(t, err)
		assert.Equal(t, int64(5), s.AccountID)
	})
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &account.Session{ExpiresAt: now}

	assert.False(t, s.Expired(now.Add(-time.Nanosecond)))
	assert.True(t, s.Expired(now), "a session expiring now is no longer valid")
	assert.True(t, s.Expired(now.Add(time.Second)))
}
