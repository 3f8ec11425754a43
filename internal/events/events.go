// Package events fans out confirmed agreement and rating changes to
// interested consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event.
type Type string

const (
	TypeAgreementCreated   Type = "agreement.created"
	TypeAgreementAccepted  Type = "agreement.accepted"
	TypeAgreementRejected  Type = "agreement.rejected"
	TypeAgreementCompleted Type = "agreement.completed"
	TypeRatingSubmitted    Type = "rating.submitted"
)

// Event describes one ledger-confirmed change.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Network     string    `json:"network"`
	AgreementID *uint64   `json:"agreement_id,omitempty"`
	Client      string    `json:"client,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Rater       string    `json:"rater,omitempty"`
	Score       int       `json:"score,omitempty"`
	State       string    `json:"state,omitempty"`
	TxHash      string    `json:"tx_hash"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// New fills the identifier and timestamp of an event.
func New(typ Type, network, txHash string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Network:    network,
		TxHash:     txHash,
		OccurredAt: time.Now().UTC(),
	}
}

// Encode renders the event as JSON.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// MemoryBus delivers events to in-process subscribers through buffered
// channels. A subscriber that falls behind loses events rather than blocking
// the publisher.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewMemoryBus creates a bus whose subscriber channels hold size events.
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 64
	}
	return &MemoryBus{subs: make(map[int]chan Event), buffer: size}
}

// Subscribe returns a channel of future events and a function that ends the
// subscription.
func (b *MemoryBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish implements Publisher.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("事件总线已关闭")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Close implements Publisher and closes every subscriber channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	return nil
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*MemoryBus)(nil)
)
