// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/holomush/fleetauth/internal/account"
)

// DefaultHashParams are the argon2id parameters for new digests.
var DefaultHashParams = account.HashParams{
	Algorithm:   account.AlgorithmArgon2id,
	Memory:      64 * 1024, // 64 MiB
	Iterations:  3,
	Parallelism: 2,
	KeyLength:   64,
	SaltLength:  64,
}

// LegacyHashParams describe digests of the deprecated account format. They
// are only ever verified, never produced.
var LegacyHashParams = account.HashParams{
	Algorithm:  account.AlgorithmPBKDF2SHA256,
	Iterations: 10000,
	KeyLength:  32,
	SaltLength: 16,
}

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher computes and verifies salted password digests.
type PasswordHasher interface {
	// Hash derives a digest with a fresh random salt.
	Hash(password string) (account.PasswordDigest, error)

	// HashWithSalt derives a digest with the given salt.
	HashWithSalt(password string, salt []byte) (account.PasswordDigest, error)

	// Verify re-derives the candidate with the algorithm, parameters and salt
	// of stored and compares in constant time.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error for
	// unsupported or malformed digests.
	Verify(candidate string, stored account.PasswordDigest) (bool, error)
}

// Hasher produces argon2id digests and verifies both argon2id and legacy
// PBKDF2 digests.
type Hasher struct {
	params account.HashParams
}

// NewHasher creates a Hasher that produces digests with params.
func NewHasher(params account.HashParams) (*Hasher, error) {
	if params.Algorithm != account.AlgorithmArgon2id {
		return nil, oops.Code("AUTH_INVALID_HASH_PARAMS").
			With("algorithm", params.Algorithm).
			Errorf("new digests must use argon2id")
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return nil, oops.Code("AUTH_INVALID_HASH_PARAMS").
			With("params", params.String()).
			Errorf("memory, iterations and parallelism must be positive")
	}
	if params.KeyLength < 16 || params.SaltLength < 16 {
		return nil, oops.Code("AUTH_INVALID_HASH_PARAMS").
			With("params", params.String()).
			Errorf("key and salt must be at least 16 bytes")
	}
	return &Hasher{params: params}, nil
}

// NewDefaultHasher creates a Hasher with DefaultHashParams.
func NewDefaultHasher() *Hasher {
	return &Hasher{params: DefaultHashParams}
}

// Params returns the parameters used for new digests.
func (h *Hasher) Params() account.HashParams {
	return h.params
}

// Hash produces an argon2id digest with a random salt.
func (h *Hasher) Hash(password string) (account.PasswordDigest, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return account.PasswordDigest{}, oops.Code("AUTH_SALT_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", h.params.SaltLength).
			Wrap(err)
	}
	return h.HashWithSalt(password, salt)
}

// HashWithSalt produces an argon2id digest with the given salt.
func (h *Hasher) HashWithSalt(password string, salt []byte) (account.PasswordDigest, error) {
	if password == "" {
		return account.PasswordDigest{}, ErrEmptyPassword
	}
	if len(salt) == 0 {
		return account.PasswordDigest{}, oops.Code("AUTH_INVALID_SALT").Errorf("salt cannot be empty")
	}
	return derive(password, salt, h.params)
}

// Verify checks candidate against stored using the strategy named by the
// digest's algorithm tag.
func (h *Hasher) Verify(candidate string, stored account.PasswordDigest) (bool, error) {
	if len(stored.Hash) == 0 || len(stored.Salt) == 0 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("stored digest is empty")
	}
	params := stored.Params
	// The stored hash length is authoritative for the output size.
	params.KeyLength = uint32(len(stored.Hash)) //nolint:gosec // bounded by column size
	computed, err := derive(candidate, stored.Salt, params)
	if err != nil {
		return false, err
	}
	return computed.Equal(stored), nil
}

func derive(password string, salt []byte, params account.HashParams) (account.PasswordDigest, error) {
	var hash []byte
	switch params.Algorithm {
	case account.AlgorithmArgon2id:
		if params.Parallelism == 0 || params.Iterations == 0 {
			return account.PasswordDigest{}, oops.Code("AUTH_INVALID_HASH").
				With("params", params.String()).
				Errorf("invalid argon2id parameters")
		}
		hash = argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	case account.AlgorithmPBKDF2SHA256:
		if params.Iterations == 0 {
			return account.PasswordDigest{}, oops.Code("AUTH_INVALID_HASH").
				With("params", params.String()).
				Errorf("invalid pbkdf2 parameters")
		}
		hash = pbkdf2.Key([]byte(password), salt, int(params.Iterations), int(params.KeyLength), sha256.New)
	default:
		return account.PasswordDigest{}, oops.Code("AUTH_INVALID_HASH").
			With("algorithm", params.Algorithm).
			Errorf("unsupported hash algorithm: %s", params.Algorithm)
	}

	out := params
	out.SaltLength = uint32(len(salt)) //nolint:gosec // salt sizes are small
	return account.PasswordDigest{
		Hash:   hash,
		Salt:   append([]byte(nil), salt...),
		Params: out,
	}, nil
}

// Compile-time interface check.
var _ PasswordHasher = (*Hasher)(nil)
