// Package events is an in-process publish/subscribe bus connecting features
// that are alive at the same time. Delivery is at most once: events published
// while nobody listens are gone, so producers fall back to the outbox.
package events

import (
	"sync"

	"github.com/dvloznov/accountbook/internal/domain"
)

// Topic names an event stream.
type Topic string

const (
	// TopicEntrySaved carries an EntrySaved payload.
	TopicEntrySaved Topic = "entry.saved"
	// TopicBudgetSaved carries a BudgetSaved payload.
	TopicBudgetSaved Topic = "budget.saved"
	// TopicLedgerRefresh asks a user's active ledger views to reload. Published
	// per user with For. No payload.
	TopicLedgerRefresh Topic = "ledger.refresh"
)

// For scopes t to one user, so events for one user never reach a view
// opened by another and listener counts stay meaningful.
func (t Topic) For(userID string) Topic {
	return t + Topic(":"+userID)
}

// EntrySaved announces a draft produced by another feature.
type EntrySaved struct {
	UserID string
	Item   domain.Draft
}

// BudgetSaved announces a budget set by another feature.
type BudgetSaved struct {
	UserID string
	Budget domain.Budget
}

// Handler receives one event payload.
type Handler func(payload any)

// Bus routes events to at most one handler per (topic, view).
// The zero value is not usable; use NewBus.
type Bus struct {
	mu       sync.RWMutex
	seq      uint64
	handlers map[Topic]map[string]registration
}

type registration struct {
	id      uint64
	handler Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Topic]map[string]registration)}
}

// Subscribe registers h for topic under view, replacing any handler the
// same view registered before. The returned func unsubscribes it.
func (b *Bus) Subscribe(topic Topic, view string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	views, ok := b.handlers[topic]
	if !ok {
		views = make(map[string]registration)
		b.handlers[topic] = views
	}
	b.seq++
	id := b.seq
	views[view] = registration{id: id, handler: h}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// A later Subscribe from the same view owns the slot now.
		if cur, ok := b.handlers[topic][view]; ok && cur.id == id {
			delete(b.handlers[topic], view)
		}
	}
}

// Unsubscribe removes every handler view registered.
func (b *Bus) Unsubscribe(view string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, views := range b.handlers {
		delete(views, view)
	}
}

// Publish runs every handler registered for topic synchronously and returns
// how many were reached. Zero means the event was lost.
func (b *Bus) Publish(topic Topic, payload any) int {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[topic]))
	for _, reg := range b.handlers[topic] {
		targets = append(targets, reg.handler)
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(payload)
	}
	return len(targets)
}

// Listeners returns the number of handlers registered for topic.
func (b *Bus) Listeners(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
