// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import (
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Envelope is the fleet wire format of one event.
type Envelope struct {
	ID        ulid.ULID       `json:"id"`
	Type      EventType       `json:"type"`
	Origin    string          `json:"origin"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

var decoders = map[EventType]func() Event{
	TypeAccountChanged:     func() Event { return &AccountChanged{} },
	TypeAchievementChanged: func() Event { return &AchievementChanged{} },
	TypeRankChanged:        func() Event { return &RankChanged{} },
	TypeSessionLogin:       func() Event { return &SessionLogin{} },
	TypeSessionLogout:      func() Event { return &SessionLogout{} },
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newEventID(now time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy)
}

// Encode wraps event in an envelope stamped with origin.
func Encode(event Event, origin string, now time.Time) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, oops.Code("EVENT_ENCODE_FAILED").
			With("event_type", string(event.Type())).
			Wrap(err)
	}
	data, err := json.Marshal(Envelope{
		ID:        newEventID(now),
		Type:      event.Type(),
		Origin:    origin,
		Timestamp: now.UTC(),
		Payload:   payload,
	})
	if err != nil {
		return nil, oops.Code("EVENT_ENCODE_FAILED").
			With("event_type", string(event.Type())).
			Wrap(err)
	}
	return data, nil
}

// Decode parses an envelope and its typed payload.
func Decode(data []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, oops.Code("EVENT_DECODE_FAILED").Wrap(err)
	}
	newEvent, ok := decoders[env.Type]
	if !ok {
		return env, nil, oops.Code("EVENT_DECODE_FAILED").
			With("event_type", string(env.Type)).
			Errorf("unknown event type %q", env.Type)
	}
	ptr := newEvent()
	if err := json.Unmarshal(env.Payload, ptr); err != nil {
		return env, nil, oops.Code("EVENT_DECODE_FAILED").
			With("event_type", string(env.Type)).
			With("event_id", env.ID.String()).
			Wrap(err)
	}
	return env, deref(ptr), nil
}

// deref turns the decoded pointer back into the value type handlers receive.
func deref(e Event) Event {
	switch v := e.(type) {
	case *AccountChanged:
		return *v
	case *AchievementChanged:
		return *v
	case *RankChanged:
		return *v
	case *SessionLogin:
		return *v
	case *SessionLogout:
		return *v
	default:
		return e
	}
}
