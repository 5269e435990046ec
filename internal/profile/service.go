// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package profile mutates account profiles and tells the fleet about it.
//
// Every mutation goes through the account store first. An event is
// published fleet-wide only when the store reports that a row changed, so
// repeating an update is free for every session cache in the fleet.
package profile

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/internal/eventbus"
)

var tracer = otel.Tracer("fleetauth/profile")

// Service applies profile mutations.
type Service struct {
	accounts account.AccountRepository
	events   eventbus.Publisher
	logger   *slog.Logger
}

// NewService creates a Service. A nil logger selects slog.Default.
func NewService(accounts account.AccountRepository, events eventbus.Publisher, logger *slog.Logger) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("PROFILE_INVALID_CONFIG").Errorf("account repository is required")
	}
	if events == nil {
		return nil, oops.Code("PROFILE_INVALID_CONFIG").Errorf("event publisher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: accounts, events: events, logger: logger.With("component", "profile")}, nil
}

// apply runs one store mutation inside a span and publishes event when the
// store reports a change.
func (s *Service) apply(
	ctx context.Context,
	operation string,
	id int64,
	mutate func(ctx context.Context) (bool, error),
	event eventbus.Event,
) (changed bool, err error) {
	ctx, span := tracer.Start(ctx, "profile."+operation, trace.WithAttributes(attribute.Int64("account.id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			mutations.WithLabelValues(operation, "error").Inc()
		} else {
			span.SetAttributes(attribute.Bool("profile.changed", changed))
			mutations.WithLabelValues(operation, outcome(changed)).Inc()
		}
		span.End()
	}()

	changed, err = mutate(ctx)
	if err != nil {
		if changed {
			// Partial write; caches still need to hear about it.
			if perr := s.events.Publish(ctx, event, eventbus.ScopeFleet); perr != nil {
				s.logger.WarnContext(ctx, "publish after partial update failed", "account_id", id, "error", perr)
			}
		}
		return false, oops.Code("PROFILE_UPDATE_FAILED").
			With("operation", operation).
			With("account_id", id).
			Wrap(err)
	}
	if !changed {
		return false, nil
	}
	if err := s.events.Publish(ctx, event, eventbus.ScopeFleet); err != nil {
		return true, oops.Code("PROFILE_EVENT_FAILED").
			With("operation", operation).
			With("account_id", id).
			With("event_type", string(event.Type())).
			Wrap(err)
	}
	s.logger.DebugContext(ctx, "profile updated", "operation", operation, "account_id", id)
	return true, nil
}

func outcome(changed bool) string {
	if changed {
		return "changed"
	}
	return "unchanged"
}

// IncrementGames adds one played game.
func (s *Service) IncrementGames(ctx context.Context, id int64) error {
	_, err := s.apply(ctx, "increment_games", id, func(ctx context.Context) (bool, error) {
		return s.accounts.IncrementGames(ctx, id)
	}, eventbus.AccountChanged{AccountID: id})
	return err
}

// IncrementPlaytime adds d to the cumulative playtime. Durations under a
// second are dropped by the store and publish nothing.
func (s *Service) IncrementPlaytime(ctx context.Context, id int64, d time.Duration) error {
	if d < 0 {
		return oops.Code("PROFILE_INVALID_PLAYTIME").
			With("account_id", id).
			With("playtime", d).
			Errorf("playtime cannot be negative")
	}
	_, err := s.apply(ctx, "increment_playtime", id, func(ctx context.Context) (bool, error) {
		return s.accounts.IncrementPlaytime(ctx, id, d)
	}, eventbus.AccountChanged{AccountID: id})
	return err
}

// UpdateAchievement grants or revokes an achievement. It reports whether the
// achievement set changed.
func (s *Service) UpdateAchievement(ctx context.Context, id int64, a account.Achievement, completed bool) (bool, error) {
	return s.apply(ctx, "update_achievement", id, func(ctx context.Context) (bool, error) {
		return s.accounts.UpdateAchievement(ctx, id, a, completed)
	}, eventbus.AchievementChanged{AccountID: id, Achievement: a, Completed: completed})
}

// UpdateRank replaces the rank.
func (s *Service) UpdateRank(ctx context.Context, id int64, rank account.Rank) (bool, error) {
	return s.apply(ctx, "update_rank", id, func(ctx context.Context) (bool, error) {
		return s.accounts.UpdateRank(ctx, id, rank)
	}, eventbus.RankChanged{AccountID: id, Rank: rank})
}

// UpdateDiscord links a chat-platform identity.
func (s *Service) UpdateDiscord(ctx context.Context, id, discord int64) (bool, error) {
	return s.apply(ctx, "update_discord", id, func(ctx context.Context) (bool, error) {
		return s.accounts.UpdateDiscord(ctx, id, discord)
	}, eventbus.AccountChanged{AccountID: id})
}

// UpdateMetadata writes one metadata entry.
func (s *Service) UpdateMetadata(ctx context.Context, id int64, key, value string) (bool, error) {
	if key == "" {
		return false, oops.Code("PROFILE_INVALID_METADATA").With("account_id", id).Errorf("metadata key cannot be empty")
	}
	return s.apply(ctx, "update_metadata", id, func(ctx context.Context) (bool, error) {
		return s.accounts.UpdateMetadata(ctx, id, key, value)
	}, eventbus.AccountChanged{AccountID: id})
}

// UpdateMetadataEntries writes several entries in key order and publishes a
// single event if any of them changed. Entries are written one by one; a
// failure leaves the earlier ones stored.
func (s *Service) UpdateMetadataEntries(ctx context.Context, id int64, entries map[string]string) (bool, error) {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		if key == "" {
			return false, oops.Code("PROFILE_INVALID_METADATA").With("account_id", id).Errorf("metadata key cannot be empty")
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return s.apply(ctx, "update_metadata_entries", id, func(ctx context.Context) (bool, error) {
		changed := false
		for _, key := range keys {
			ok, err := s.accounts.UpdateMetadata(ctx, id, key, entries[key])
			if err != nil {
				return changed, oops.With("metadata_key", key).Wrap(err)
			}
			changed = changed || ok
		}
		return changed, nil
	}, eventbus.AccountChanged{AccountID: id})
}

// SelectByID returns the account with the given id.
func (s *Service) SelectByID(ctx context.Context, id int64) (*account.Account, error) {
	return s.lookup("select by id", func() (*account.Account, error) { return s.accounts.SelectByID(ctx, id) })
}

// SelectByUsername returns the account with the exact username.
func (s *Service) SelectByUsername(ctx context.Context, username string) (*account.Account, error) {
	return s.lookup("select by username", func() (*account.Account, error) {
		return s.accounts.SelectByUsername(ctx, username)
	})
}

// SelectByDiscord returns the account linked to the chat identity.
func (s *Service) SelectByDiscord(ctx context.Context, discord int64) (*account.Account, error) {
	return s.lookup("select by discord", func() (*account.Account, error) {
		return s.accounts.SelectByDiscord(ctx, discord)
	})
}

// lookup passes account.ErrNotFound through unchanged so callers can test
// for it with errors.Is.
func (s *Service) lookup(operation string, fn func() (*account.Account, error)) (*account.Account, error) {
	acc, err := fn()
	if err == nil || errors.Is(err, account.ErrNotFound) {
		return acc, err
	}
	return nil, oops.Code("PROFILE_QUERY_FAILED").With("operation", operation).Wrap(err)
}
