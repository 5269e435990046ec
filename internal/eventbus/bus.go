// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import "context"

// Handler processes one delivered event. Handlers run on a goroutine owned by
// the bus; a slow handler delays only its own subscription.
type Handler func(ctx context.Context, event Event)

// Publisher publishes domain events.
type Publisher interface {
	// Publish delivers event to every handler in scope. It returns once the
	// event is queued locally and, for ScopeFleet, handed to the transport.
	Publish(ctx context.Context, event Event, scope Scope) error
}

// Bus publishes events and registers handlers.
type Bus interface {
	Publisher

	// Subscribe registers h for events of type t. The returned function
	// removes the subscription and is safe to call more than once.
	Subscribe(t EventType, h Handler) (unsubscribe func())
}
