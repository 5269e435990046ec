// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/pkg/errutil"
)

func TestHashParams_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		params account.HashParams
		want   string
	}{
		{
			name: "argon2id",
			params: account.HashParams{
				Algorithm:   account.AlgorithmArgon2id,
				Memory:      64 * 1024,
				Iterations:  3,
				Parallelism: 2,
				KeyLength:   64,
				SaltLength:  64,
			},
			want: "argon2id$m=65536,t=3,p=2,l=64,s=64",
		},
		{
			name: "pbkdf2",
			params: account.HashParams{
				Algorithm:  account.AlgorithmPBKDF2SHA256,
				Iterations: 10000,
				KeyLength:  32,
				SaltLength: 16,
			},
			want: "pbkdf2-sha256$i=10000,l=32,s=16",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.params.String()
			assert.Equal(t, tt.want, encoded)

			parsed, err := account.ParseHashParams(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.params, parsed)
		})
	}
}

func TestParseHashParams_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"no separator", "argon2id"},
		{"unknown algorithm", "bcrypt$cost=10"},
		{"malformed argon2id", "argon2id$m=abc"},
		{"zero parallelism", "argon2id$m=1,t=1,p=0,l=32,s=16"},
		{"zero iterations", "pbkdf2-sha256$i=0,l=32,s=16"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := account.ParseHashParams(tt.encoded)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "DIGEST_INVALID_PARAMS")
		})
	}
}

func TestPasswordDigest_Equal(t *testing.T) {
	params := account.HashParams{Algorithm: account.AlgorithmPBKDF2SHA256, Iterations: 1, KeyLength: 3, SaltLength: 2}
	base := account.PasswordDigest{Hash: []byte{1, 2, 3}, Salt: []byte{9, 9}, Params: params}

	assert.True(t, base.Equal(account.PasswordDigest{Hash: []byte{1, 2, 3}, Salt: []byte{9, 9}, Params: params}))
	assert.False(t, base.Equal(account.PasswordDigest{Hash: []byte{1, 2, 4}, Salt: []byte{9, 9}, Params: params}))
	assert.False(t, base.Equal(account.PasswordDigest{Hash: []byte{1, 2, 3}, Salt: []byte{9, 8}, Params: params}))
	assert.False(t, base.Equal(account.PasswordDigest{Hash: []byte{1, 2}, Salt: []byte{9, 9}, Params: params}))
}

func TestPasswordDigest_StringHidesSalt(t *testing.T) {
	d := account.PasswordDigest{
		Hash:   []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02},
		Salt:   []byte{0xca, 0xfe},
		Params: account.HashParams{Algorithm: account.AlgorithmPBKDF2SHA256, Iterations: 1, KeyLength: 6, SaltLength: 2},
	}
	s := d.String()
	assert.Contains(t, s, "DEADBEEF")
	assert.NotContains(t, s, "0102")
	assert.NotContains(t, s, "CAFE")
}
