// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/pkg/errutil"
)

func TestRank_Ordering(t *testing.T) {
	ordered := []account.Rank{
		account.RankEveryone,
		account.RankVerified,
		account.RankOverseer,
		account.RankModerator,
		account.RankAdmin,
		account.RankOwner,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1], ordered[i])
		assert.True(t, ordered[i].AtLeast(ordered[i-1]))
		assert.False(t, ordered[i-1].AtLeast(ordered[i]))
	}
}

func TestParseRank(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  account.Rank
	}{
		{"upper case", "MODERATOR", account.RankModerator},
		{"lower case", "owner", account.RankOwner},
		{"everyone", "EVERYONE", account.RankEveryone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := account.ParseRank(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParseRank(t, got.String()))
		})
	}

	t.Run("unknown rank", func(t *testing.T) {
		_, err := account.ParseRank("EMPEROR")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_RANK")
	})
}

func mustParseRank(t *testing.T, s string) account.Rank {
	t.Helper()
	r, err := account.ParseRank(s)
	require.NoError(t, err)
	return r
}

func TestAchievementSet(t *testing.T) {
	var set account.AchievementSet
	assert.False(t, set.Has(account.AchievementGamer))

	set = set.With(account.AchievementGamer).With(account.AchievementDay)
	assert.True(t, set.Has(account.AchievementGamer))
	assert.True(t, set.Has(account.AchievementDay))
	assert.False(t, set.Has(account.AchievementWeek))
	assert.Equal(t, []account.Achievement{account.AchievementGamer, account.AchievementDay}, set.Slice())

	again := set.With(account.AchievementGamer)
	assert.Equal(t, set, again, "adding a held achievement is a no-op")

	set = set.Without(account.AchievementGamer)
	assert.False(t, set.Has(account.AchievementGamer))
	assert.Equal(t, account.NewAchievementSet(account.AchievementDay), set)
}

func TestParseAchievement(t *testing.T) {
	a, err := account.ParseAchievement("supporter")
	require.NoError(t, err)
	assert.Equal(t, account.AchievementSupporter, a)
	assert.Equal(t, "SUPPORTER", a.String())

	_, err = account.ParseAchievement("nope")
	errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_ACHIEVEMENT")
}

func TestRankAndAchievement_JSON(t *testing.T) {
	type payload struct {
		Rank        account.Rank        `json:"rank"`
		Achievement account.Achievement `json:"achievement"`
	}

	data, err := json.Marshal(payload{Rank: account.RankAdmin, Achievement: account.AchievementGamer})
	require.NoError(t, err)
	assert.JSONEq(t, `{"rank":"ADMIN","achievement":"GAMER"}`, string(data))

	var decoded payload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, account.RankAdmin, decoded.Rank)
	assert.Equal(t, account.AchievementGamer, decoded.Achievement)

	_, err = json.Marshal(payload{Rank: account.Rank(99)})
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"rank":"EMPEROR"}`), &decoded)
	require.Error(t, err)
}

func TestAccount_Clone(t *testing.T) {
	discord := int64(42)
	original := &account.Account{
		ID:       1,
		Username: "alice",
		Discord:  &discord,
		Metadata: map[string]string{"k": "v"},
	}

	clone := original.Clone()
	clone.Metadata["k"] = "changed"
	*clone.Discord = 7

	assert.Equal(t, "v", original.Metadata["k"])
	assert.Equal(t, int64(42), *original.Discord)

	var nilAccount *account.Account
	assert.Nil(t, nilAccount.Clone())
}
