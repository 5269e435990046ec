// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Algorithm tags the key derivation function a digest was produced with.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmArgon2id     Algorithm = "argon2id"
	AlgorithmPBKDF2SHA256 Algorithm = "pbkdf2-sha256"
)

// HashParams are the cost parameters a digest was derived with. Memory and
// Parallelism only apply to argon2id.
type HashParams struct {
	Algorithm   Algorithm
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// String encodes the parameters as stored next to a digest, for example
// "argon2id$m=65536,t=3,p=2,l=64,s=64".
func (p HashParams) String() string {
	switch p.Algorithm {
	case AlgorithmArgon2id:
		return fmt.Sprintf("%s$m=%d,t=%d,p=%d,l=%d,s=%d",
			p.Algorithm, p.Memory, p.Iterations, p.Parallelism, p.KeyLength, p.SaltLength)
	default:
		return fmt.Sprintf("%s$i=%d,l=%d,s=%d", p.Algorithm, p.Iterations, p.KeyLength, p.SaltLength)
	}
}

// ParseHashParams decodes the output of HashParams.String.
func ParseHashParams(encoded string) (HashParams, error) {
	algo, rest, ok := strings.Cut(encoded, "$")
	if !ok {
		return HashParams{}, oops.Code("DIGEST_INVALID_PARAMS").
			With("params", encoded).
			Errorf("missing algorithm separator")
	}

	p := HashParams{Algorithm: Algorithm(algo)}
	switch p.Algorithm {
	case AlgorithmArgon2id:
		var parallelism uint32
		if _, err := fmt.Sscanf(rest, "m=%d,t=%d,p=%d,l=%d,s=%d",
			&p.Memory, &p.Iterations, &parallelism, &p.KeyLength, &p.SaltLength); err != nil {
			return HashParams{}, oops.Code("DIGEST_INVALID_PARAMS").With("params", encoded).Wrap(err)
		}
		if parallelism == 0 || parallelism > 255 {
			return HashParams{}, oops.Code("DIGEST_INVALID_PARAMS").
				With("params", encoded).
				Errorf("parallelism %d out of range", parallelism)
		}
		p.Parallelism = uint8(parallelism)
	case AlgorithmPBKDF2SHA256:
		if _, err := fmt.Sscanf(rest, "i=%d,l=%d,s=%d", &p.Iterations, &p.KeyLength, &p.SaltLength); err != nil {
			return HashParams{}, oops.Code("DIGEST_INVALID_PARAMS").With("params", encoded).Wrap(err)
		}
	default:
		return HashParams{}, oops.Code("DIGEST_INVALID_PARAMS").
			With("params", encoded).
			Errorf("unsupported hash algorithm: %s", algo)
	}
	if p.Iterations == 0 || p.KeyLength == 0 {
		return HashParams{}, oops.Code("DIGEST_INVALID_PARAMS").
			With("params", encoded).
			Errorf("iterations and key length must be positive")
	}
	return p, nil
}

// PasswordDigest is the salted hash of a password. The plaintext is never
// stored.
type PasswordDigest struct {
	Hash   []byte
	Salt   []byte
	Params HashParams
}

// Equal compares hash and salt in constant time. Parameters are not secret
// and are compared directly.
func (d PasswordDigest) Equal(other PasswordDigest) bool {
	hashEq := subtle.ConstantTimeCompare(d.Hash, other.Hash)
	saltEq := subtle.ConstantTimeCompare(d.Salt, other.Salt)
	return hashEq&saltEq == 1 && d.Params == other.Params
}

// String never prints the salt, and only a prefix of the hash.
func (d PasswordDigest) String() string {
	prefix := d.Hash
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return fmt.Sprintf("PasswordDigest(%s, hash=%s…)", d.Params, strings.ToUpper(hex.EncodeToString(prefix)))
}
