// Package events delivers notifications about committed transactions.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ha1tch/olu-graph/pkg/storage"
)

// Kind identifies what happened
type Kind string

const (
	ValueInserted      Kind = "value.inserted"
	ValueRemoved       Kind = "value.removed"
	ValueReplaced      Kind = "value.replaced"
	EntitiesStored     Kind = "entities.stored"
	SpaceReset         Kind = "space.reset"
	EntitiesImported   Kind = "entities.imported"
	ApplicationCreated Kind = "application.created"
	ApiKeyGenerated    Kind = "apikey.generated"
	ApiKeyRevoked      Kind = "apikey.revoked"
)

// Event describes one committed change. Transaction is nil for bulk events
// that bypass the transaction path.
type Event struct {
	Kind        Kind
	Space       string
	Transaction *storage.Transaction
	At          time.Time
}

// Publisher accepts events
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Handler consumes events
type Handler func(ctx context.Context, e Event)

// Bus fans events out to subscribers synchronously, in subscription order
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   zerolog.Logger
}

// NewBus creates an empty bus
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers h for every subsequent event
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers e to every subscriber
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	ev := b.logger.Debug().Str("kind", string(e.Kind)).Str("space", e.Space)
	if e.Transaction != nil {
		ev = ev.Str("tx", e.Transaction.ID).Int("affected", len(e.Transaction.Affected()))
	}
	ev.Msg("Publishing event")

	for _, h := range handlers {
		h(ctx, e)
	}
}

// Discard is a publisher that drops every event
type Discard struct{}

// Publish does nothing
func (Discard) Publish(context.Context, Event) {}
