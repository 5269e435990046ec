// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"maps"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Rank is the staff level of an account. Ranks are totally ordered, a higher
// value always includes the privileges of the lower ones.
type Rank uint8

// Ranks from lowest to highest.
const (
	RankEveryone Rank = iota
	RankVerified
	RankOverseer
	RankModerator
	RankAdmin
	RankOwner
)

var rankNames = [...]string{
	RankEveryone:  "EVERYONE",
	RankVerified:  "VERIFIED",
	RankOverseer:  "OVERSEER",
	RankModerator: "MODERATOR",
	RankAdmin:     "ADMIN",
	RankOwner:     "OWNER",
}

func (r Rank) String() string {
	if int(r) < len(rankNames) {
		return rankNames[r]
	}
	return "UNKNOWN"
}

// AtLeast reports whether r is equal to or above other.
func (r Rank) AtLeast(other Rank) bool {
	return r >= other
}

// ParseRank converts a stored rank name back to a Rank.
func ParseRank(name string) (Rank, error) {
	for i, n := range rankNames {
		if strings.EqualFold(n, name) {
			return Rank(i), nil
		}
	}
	return RankEveryone, oops.Code("ACCOUNT_INVALID_RANK").
		With("rank", name).
		Errorf("unknown rank %q", name)
}

// MarshalText encodes the rank by name.
func (r Rank) MarshalText() ([]byte, error) {
	if int(r) >= len(rankNames) {
		return nil, oops.Code("ACCOUNT_INVALID_RANK").With("rank", int(r)).Errorf("unknown rank %d", r)
	}
	return []byte(rankNames[r]), nil
}

// UnmarshalText decodes a rank name.
func (r *Rank) UnmarshalText(text []byte) error {
	v, err := ParseRank(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Achievement is an unlockable account badge.
type Achievement uint8

// Known achievements.
const (
	AchievementActive Achievement = iota
	AchievementHyper
	AchievementAddict
	AchievementGamer
	AchievementSteam
	AchievementDiscord
	AchievementDay
	AchievementWeek
	AchievementMonth
	AchievementSupporter
	achievementCount
)

var achievementNames = [...]string{
	AchievementActive:    "ACTIVE",
	AchievementHyper:     "HYPER",
	AchievementAddict:    "ADDICT",
	AchievementGamer:     "GAMER",
	AchievementSteam:     "STEAM",
	AchievementDiscord:   "DISCORD",
	AchievementDay:       "DAY",
	AchievementWeek:      "WEEK",
	AchievementMonth:     "MONTH",
	AchievementSupporter: "SUPPORTER",
}

func (a Achievement) String() string {
	if a < achievementCount {
		return achievementNames[a]
	}
	return "UNKNOWN"
}

// ParseAchievement converts a stored achievement name back to an Achievement.
func ParseAchievement(name string) (Achievement, error) {
	for i, n := range achievementNames {
		if strings.EqualFold(n, name) {
			return Achievement(i), nil
		}
	}
	return 0, oops.Code("ACCOUNT_INVALID_ACHIEVEMENT").
		With("achievement", name).
		Errorf("unknown achievement %q", name)
}

// MarshalText encodes the achievement by name.
func (a Achievement) MarshalText() ([]byte, error) {
	if a >= achievementCount {
		return nil, oops.Code("ACCOUNT_INVALID_ACHIEVEMENT").
			With("achievement", int(a)).
			Errorf("unknown achievement %d", a)
	}
	return []byte(achievementNames[a]), nil
}

// UnmarshalText decodes an achievement name.
func (a *Achievement) UnmarshalText(text []byte) error {
	v, err := ParseAchievement(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// AchievementSet is an unordered set of achievements. The zero value is the
// empty set. It is a value type, so copies never alias.
type AchievementSet uint32

// NewAchievementSet returns a set holding the given achievements.
func NewAchievementSet(achievements ...Achievement) AchievementSet {
	var s AchievementSet
	for _, a := range achievements {
		s = s.With(a)
	}
	return s
}

// Has reports whether a is in the set.
func (s AchievementSet) Has(a Achievement) bool {
	return s&(1<<a) != 0
}

// With returns a copy of the set including a.
func (s AchievementSet) With(a Achievement) AchievementSet {
	return s | 1<<a
}

// Without returns a copy of the set excluding a.
func (s AchievementSet) Without(a Achievement) AchievementSet {
	return s &^ (1 << a)
}

// Slice returns the achievements in declaration order.
func (s AchievementSet) Slice() []Achievement {
	var out []Achievement
	for a := Achievement(0); a < achievementCount; a++ {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// Account is a registered player. Values returned by repositories and the
// session cache are snapshots; mutate accounts through the profile and auth
// services only.
type Account struct {
	ID           int64
	Username     string
	Discord      *int64 // linked chat-platform identity, nil if not linked
	Games        int
	Playtime     time.Duration
	Rank         Rank
	Achievements AchievementSet
	Metadata     map[string]string
	CreatedAt    time.Time
	Legacy       bool

	// Revision increases with every stored change to the account, its
	// achievements or its metadata.
	Revision int64
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Discord != nil {
		d := *a.Discord
		c.Discord = &d
	}
	c.Metadata = maps.Clone(a.Metadata)
	return &c
}
