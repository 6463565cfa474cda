// Package events carries engine notifications to interested parties. Events
// are published only after the transaction that produced them commits.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/google/uuid"
)

// Event types.
const (
	TypeRandomnessRequested = "RandomnessRequested"
	TypeBetSettled          = "BetSettled"
	TypeBetRefunded         = "BetRefunded"
	TypeRequestRetried      = "RequestRetried"
	TypeTicketsPurchased    = "TicketsPurchased"
	TypeDrawRequested       = "DrawRequested"
	TypeLotterySettled      = "LotterySettled"
	TypeGameRegistered      = "GameRegistered"
	TypeOperationalChanged  = "OperationalChanged"
)

// Event is one notification.
type Event struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Game      string           `json:"game,omitempty"`
	RequestID random.RequestID `json:"request_id,omitempty"`
	RoundID   uint64           `json:"round_id,omitempty"`
	Player    string           `json:"player,omitempty"`
	Data      map[string]any   `json:"data,omitempty"`
	At        time.Time        `json:"at"`
}

// New stamps an event with a fresh id.
func New(typ string, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, At: at}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// Multi fans out to every publisher and joins their errors.
func Multi(pubs ...Publisher) Publisher {
	return multi(pubs)
}

type multi []Publisher

func (m multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bus is an in-process publisher that keeps the most recent events and
// notifies subscribers synchronously.
type Bus struct {
	mu      sync.RWMutex
	recent  []Event
	limit   int
	nextSub int
	subs    map[int]func(Event)
}

// NewBus retains up to limit recent events.
func NewBus(limit int) *Bus {
	if limit <= 0 {
		limit = 256
	}
	return &Bus{limit: limit, subs: make(map[int]func(Event))}
}

func (b *Bus) Publish(_ context.Context, evt Event) error {
	b.mu.Lock()
	b.recent = append(b.recent, evt)
	if len(b.recent) > b.limit {
		b.recent = append([]Event(nil), b.recent[len(b.recent)-b.limit:]...)
	}
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(evt)
	}
	return nil
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Recent returns retained events, newest last, optionally filtered by type.
func (b *Bus) Recent(typ string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, 0, len(b.recent))
	for _, evt := range b.recent {
		if typ == "" || evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}
