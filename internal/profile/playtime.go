// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package profile

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/fleetauth/internal/account"
)

// Metadata keys holding the daily login streak.
const (
	MetadataLastGrant = "playtime_achievement_last_grant"
	MetadataIncrement = "playtime_achievement_increment"
)

const day = 24 * time.Hour

// Playtime thresholds.
const (
	GamerSitting = 8 * time.Hour
	DailyMinimum = 30 * time.Minute
	StreakGrace  = 2*day + 12*time.Hour
	ActiveStreak = 7
	HyperStreak  = 30
)

// CheckInterval is how often connected players should be checked.
const CheckInterval = time.Minute

// Lookup resolves a connected session to its account. sessioncache.Cache
// implements it.
type Lookup interface {
	Get(key account.SessionKey) (account.Account, bool)
}

// Tracker measures how long each connection has been playing and grants
// playtime achievements.
type Tracker struct {
	profile *Service
	lookup  Lookup
	now     func() time.Time
	logger  *slog.Logger

	mu     sync.Mutex
	joined map[account.SessionKey]time.Time
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(profile *Service, lookup Lookup, opts TrackerOptions) (*Tracker, error) {
	if profile == nil {
		return nil, oops.Code("PROFILE_INVALID_CONFIG").Errorf("profile service is required")
	}
	if lookup == nil {
		return nil, oops.Code("PROFILE_INVALID_CONFIG").Errorf("session lookup is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		profile: profile,
		lookup:  lookup,
		now:     opts.Now,
		logger:  opts.Logger.With("component", "playtime"),
		joined:  make(map[account.SessionKey]time.Time),
	}, nil
}

// Join starts the sitting of key. Joining twice restarts it.
func (t *Tracker) Join(key account.SessionKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joined[key] = t.now()
}

// Sitting returns how long key has been connected.
func (t *Tracker) Sitting(key account.SessionKey) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.joined[key]
	if !ok {
		return 0, false
	}
	return max(t.now().Sub(start), 0), true
}

// Leave ends the sitting of key. If the connection is logged in its sitting
// is added to the account's playtime and achievements are checked.
func (t *Tracker) Leave(ctx context.Context, key account.SessionKey) error {
	t.mu.Lock()
	start, ok := t.joined[key]
	delete(t.joined, key)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	acc, ok := t.lookup.Get(key)
	if !ok {
		return nil
	}
	sitting := max(t.now().Sub(start), 0)
	if err := t.profile.IncrementPlaytime(ctx, acc.ID, sitting); err != nil {
		return err
	}
	return t.Check(ctx, acc, sitting)
}

// CheckAll checks every logged-in connection. It is meant to run as a
// scheduled task.
func (t *Tracker) CheckAll(ctx context.Context) error {
	now := t.now()
	t.mu.Lock()
	sittings := make(map[account.SessionKey]time.Duration, len(t.joined))
	for key, start := range t.joined {
		sittings[key] = max(now.Sub(start), 0)
	}
	t.mu.Unlock()

	var errs []error
	for key, sitting := range sittings {
		acc, ok := t.lookup.Get(key)
		if !ok {
			continue
		}
		if err := t.Check(ctx, acc, sitting); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Check grants the achievements earned by acc after playing sitting in one
// go. acc.Playtime must not include sitting yet.
func (t *Tracker) Check(ctx context.Context, acc account.Account, sitting time.Duration) error {
	var errs []error
	grant := func(a account.Achievement) {
		if acc.Achievements.Has(a) {
			return
		}
		changed, err := t.profile.UpdateAchievement(ctx, acc.ID, a, true)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if changed {
			achievementsGranted.WithLabelValues(a.String()).Inc()
			t.logger.InfoContext(ctx, "achievement granted", "account_id", acc.ID, "achievement", a.String())
		}
	}

	if sitting >= GamerSitting {
		grant(account.AchievementGamer)
	}
	if err := t.checkStreak(ctx, acc, sitting, grant); err != nil {
		errs = append(errs, err)
	}

	total := acc.Playtime + sitting
	if total >= day {
		grant(account.AchievementDay)
	}
	if total >= 7*day {
		grant(account.AchievementWeek)
	}
	if total >= 30*day {
		grant(account.AchievementMonth)
	}
	return errors.Join(errs...)
}

// checkStreak advances the daily login streak. A day counts once the player
// has been on for DailyMinimum; the streak continues if the previous counted
// day is at least one day and less than StreakGrace ago, and restarts at one
// otherwise.
func (t *Tracker) checkStreak(ctx context.Context, acc account.Account, sitting time.Duration, grant func(account.Achievement)) error {
	if sitting < DailyMinimum {
		return nil
	}
	now := t.now()
	last, hasLast := parseMillis(acc.Metadata[MetadataLastGrant])
	increment, _ := strconv.Atoi(acc.Metadata[MetadataIncrement])

	if !hasLast {
		increment++
	} else {
		elapsed := max(now.Sub(last), 0)
		switch {
		case elapsed < day:
			return nil
		case elapsed < StreakGrace:
			increment++
		default:
			increment = 1
		}
	}

	if increment >= ActiveStreak {
		grant(account.AchievementActive)
	}
	if increment >= HyperStreak {
		grant(account.AchievementHyper)
	}

	_, err := t.profile.UpdateMetadataEntries(ctx, acc.ID, map[string]string{
		MetadataLastGrant: strconv.FormatInt(now.UnixMilli(), 10),
		MetadataIncrement: strconv.Itoa(increment),
	})
	return err
}

func parseMillis(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
