// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"errors"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// T is what the assertions need from a test. *testing.T satisfies it.
type T interface {
	require.TestingT
	Helper()
}

// mustOops stops the test unless err has an oops error in its chain.
func mustOops(t T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "expected an oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode checks the code oops reports for err, which is the deepest
// code in the chain.
func AssertErrorCode(t T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, mustOops(t, err).Code())
}

// AssertErrorContext checks one key of the merged context map of err.
func AssertErrorContext(t T, err error, key string, value any) {
	t.Helper()
	ctx := mustOops(t, err).Context()
	if assert.Containsf(t, ctx, key, "context key %q", key) {
		assert.Equal(t, value, ctx[key])
	}
}

// AssertErrorIs checks that err wraps target and carries code.
func AssertErrorIs(t T, err, target error, code string) {
	t.Helper()
	assert.Truef(t, errors.Is(err, target), "expected %v to wrap %v", err, target)
	AssertErrorCode(t, err, code)
}
