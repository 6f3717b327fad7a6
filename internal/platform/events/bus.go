// Package events provides the lifecycle notification channel for the
// engine: an in-process bus that components subscribe to, plus an optional
// HMAC-signed webhook forwarder for external consumers. Polling remains a
// fallback transport; the bus is the primary freshness signal.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted by the engine.
const (
	TypeClaimApproved  = "claim.approved"
	TypeClaimDenied    = "claim.denied"
	TypeClaimRescored  = "claim.rescored"
	TypeInvoiceCreated = "invoice.created"
	TypeInvoicePaid    = "invoice.paid"
)

// Event is a lifecycle notification.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// HandlerFunc consumes events. Handlers must not block; long work should be
// dispatched to a goroutine by the handler itself.
type HandlerFunc func(ctx context.Context, evt Event)

// Bus is an in-process publish/subscribe dispatcher. Dispatch is
// synchronous and in subscription order; a slow subscriber slows the
// publisher, which keeps event ordering deterministic for tests.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]HandlerFunc
	all    []HandlerFunc
	logger zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]HandlerFunc),
		logger: logger,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers the event to all matching subscribers. A zero ID or
// timestamp is filled in.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]HandlerFunc, 0, len(b.subs[evt.Type])+len(b.all))
	handlers = append(handlers, b.subs[evt.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	b.logger.Debug().
		Str("event_id", evt.ID).
		Str("type", evt.Type).
		Str("entity_id", evt.EntityID).
		Int("subscribers", len(handlers)).
		Msg("publish event")

	for _, h := range handlers {
		h(ctx, evt)
	}
}

// NopPublisher discards all events; used in tests and the migrate command.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
