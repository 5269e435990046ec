// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package profile_test

import (
	"context"
	"net/netip"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/internal/profile"
	"github.com/holomush/fleetauth/pkg/errutil"
)

// storeLookup resolves keys straight from the store, standing in for the
// session cache.
type storeLookup struct {
	f    *fixture
	mu   sync.Mutex
	keys map[account.SessionKey]int64
}

func (l *storeLookup) bind(key account.SessionKey, id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[key] = id
}

func (l *storeLookup) Get(key account.SessionKey) (account.Account, bool) {
	l.mu.Lock()
	id, ok := l.keys[key]
	l.mu.Unlock()
	if !ok {
		return account.Account{}, false
	}
	acc, err := l.f.store.Accounts().SelectByID(context.Background(), id)
	if err != nil {
		return account.Account{}, false
	}
	return *acc, true
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type trackerFixture struct {
	*fixture
	tracker *profile.Tracker
	lookup  *storeLookup
	clock   *manualClock
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	f := newFixture(t)
	lookup := &storeLookup{f: f, keys: map[account.SessionKey]int64{}}
	clock := &manualClock{now: time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)}
	tracker, err := profile.NewTracker(f.svc, lookup, profile.TrackerOptions{Now: clock.Now})
	require.NoError(t, err)
	return &trackerFixture{fixture: f, tracker: tracker, lookup: lookup, clock: clock}
}

var player = account.SessionKey{UUID: "uuid-p", USID: "usid-p", Address: netip.MustParseAddr("198.51.100.4")}

func TestNewTracker_NilDependencies(t *testing.T) {
	_, err := profile.NewTracker(nil, &storeLookup{}, profile.TrackerOptions{})
	errutil.AssertErrorCode(t, err, "PROFILE_INVALID_CONFIG")

	f := newFixture(t)
	_, err = profile.NewTracker(f.svc, nil, profile.TrackerOptions{})
	errutil.AssertErrorCode(t, err, "PROFILE_INVALID_CONFIG")
}

func TestTracker_LeaveAddsPlaytime(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	f.lookup.bind(player, f.id)

	f.tracker.Join(player)
	f.clock.Advance(20 * time.Minute)
	sitting, ok := f.tracker.Sitting(player)
	require.True(t, ok)
	assert.Equal(t, 20*time.Minute, sitting)

	require.NoError(t, f.tracker.Leave(ctx, player))
	acc := f.account(t)
	assert.Equal(t, 20*time.Minute, acc.Playtime)
	assert.Zero(t, acc.Achievements, "twenty minutes earns nothing")
	assert.NotContains(t, acc.Metadata, profile.MetadataIncrement)

	_, ok = f.tracker.Sitting(player)
	assert.False(t, ok)
	require.NoError(t, f.tracker.Leave(ctx, player), "leaving twice is a no-op")
	assert.Equal(t, 20*time.Minute, f.account(t).Playtime)
}

func TestTracker_AnonymousLeaveIsIgnored(t *testing.T) {
	f := newTrackerFixture(t)
	f.tracker.Join(player)
	f.clock.Advance(time.Hour)

	require.NoError(t, f.tracker.Leave(context.Background(), player))
	assert.Zero(t, f.account(t).Playtime)
	assert.Empty(t, f.events.all())
}

func TestTracker_Check(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		playtime time.Duration
		sitting  time.Duration
		want     []account.Achievement
	}{
		{"short sitting", 0, 10 * time.Minute, nil},
		{"gamer", 0, 8 * time.Hour, []account.Achievement{account.AchievementGamer}},
		{"day from cumulative", 23 * time.Hour, time.Hour, []account.Achievement{account.AchievementDay}},
		{"week", 7*24*time.Hour - time.Minute, 10 * time.Minute, []account.Achievement{account.AchievementDay, account.AchievementWeek}},
		{"month", 30 * 24 * time.Hour, 0, []account.Achievement{account.AchievementDay, account.AchievementWeek, account.AchievementMonth}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTrackerFixture(t)
			acc := *f.account(t)
			acc.Playtime = tt.playtime

			require.NoError(t, f.tracker.Check(ctx, acc, tt.sitting))
			assert.Equal(t, account.NewAchievementSet(tt.want...), f.account(t).Achievements)
		})
	}
}

func TestTracker_CheckSkipsHeldAchievements(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	acc := *f.account(t)
	acc.Achievements = account.NewAchievementSet(account.AchievementGamer)

	require.NoError(t, f.tracker.Check(ctx, acc, 8*time.Hour))
	assert.False(t, f.account(t).Achievements.Has(account.AchievementGamer),
		"an achievement already in the snapshot is not written again")
}

func TestTracker_DailyStreak(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)

	play := func() {
		t.Helper()
		require.NoError(t, f.tracker.Check(ctx, *f.account(t), 45*time.Minute))
	}
	streak := func() int {
		t.Helper()
		n, err := strconv.Atoi(f.account(t).Metadata[profile.MetadataIncrement])
		require.NoError(t, err)
		return n
	}

	play()
	assert.Equal(t, 1, streak())
	assert.Equal(t, strconv.FormatInt(f.clock.Now().UnixMilli(), 10), f.account(t).Metadata[profile.MetadataLastGrant])

	t.Run("same day counts once", func(t *testing.T) {
		f.clock.Advance(6 * time.Hour)
		play()
		assert.Equal(t, 1, streak())
	})

	t.Run("consecutive days grant ACTIVE on the seventh", func(t *testing.T) {
		f.clock.Advance(18 * time.Hour)
		for range 5 {
			play()
			f.clock.Advance(25 * time.Hour)
		}
		assert.Equal(t, 6, streak())
		assert.False(t, f.account(t).Achievements.Has(account.AchievementActive))

		play()
		assert.Equal(t, 7, streak())
		assert.True(t, f.account(t).Achievements.Has(account.AchievementActive))
	})

	t.Run("a long gap restarts the streak", func(t *testing.T) {
		f.clock.Advance(3 * 24 * time.Hour)
		play()
		assert.Equal(t, 1, streak())
		assert.True(t, f.account(t).Achievements.Has(account.AchievementActive), "earned achievements stay")
	})

	t.Run("short sittings do not count", func(t *testing.T) {
		f.clock.Advance(25 * time.Hour)
		require.NoError(t, f.tracker.Check(ctx, *f.account(t), 29*time.Minute))
		assert.Equal(t, 1, streak())
	})
}

func TestTracker_HyperStreak(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	_, err := f.svc.UpdateMetadataEntries(ctx, f.id, map[string]string{
		profile.MetadataLastGrant: strconv.FormatInt(f.clock.Now().Add(-36*time.Hour).UnixMilli(), 10),
		profile.MetadataIncrement: "29",
	})
	require.NoError(t, err)

	require.NoError(t, f.tracker.Check(ctx, *f.account(t), time.Hour))
	acc := f.account(t)
	assert.True(t, acc.Achievements.Has(account.AchievementActive))
	assert.True(t, acc.Achievements.Has(account.AchievementHyper))
	assert.Equal(t, "30", acc.Metadata[profile.MetadataIncrement])
}

func TestTracker_CheckAll(t *testing.T) {
	ctx := context.Background()
	f := newTrackerFixture(t)
	other := account.SessionKey{UUID: "uuid-q", USID: "usid-q", Address: netip.MustParseAddr("198.51.100.5")}
	f.lookup.bind(player, f.id)

	f.tracker.Join(player)
	f.tracker.Join(other) // anonymous
	f.clock.Advance(8 * time.Hour)

	require.NoError(t, f.tracker.CheckAll(ctx))
	acc := f.account(t)
	assert.True(t, acc.Achievements.Has(account.AchievementGamer))
	assert.Zero(t, acc.Playtime, "periodic checks do not add playtime")
	assert.Equal(t, "1", acc.Metadata[profile.MetadataIncrement])
}
