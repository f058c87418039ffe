// Package events is the in-process publish/subscribe bus for scan and market events.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/models"
)

// Type names an event
type Type string

const (
	ScanProgress Type = "scan_progress"
	ScanComplete Type = "scan_complete"
	ScanError    Type = "scan_error"
	MarketUpdate Type = "market_update"
)

// Event is the envelope delivered to subscribers
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Progress is emitted after every processed batch
type Progress struct {
	Mode               models.Mode `json:"mode"`
	Current            int         `json:"current"`
	Total              int         `json:"total"`
	Percent            float64     `json:"percent"`
	OpportunitiesFound int         `json:"opportunities_found"`
}

// Complete is emitted once when a scan finishes
type Complete struct {
	Mode               models.Mode `json:"mode"`
	TotalOpportunities int         `json:"total_opportunities"`
	ScanDurationS      float64     `json:"scan_duration_s"`
}

// Failure is emitted when a scan ends in error
type Failure struct {
	Mode    models.Mode `json:"mode"`
	Message string      `json:"message"`
}

// Handler receives events. Handlers run on the publisher's goroutine and must not block.
type Handler func(Event)

// Publisher is satisfied by Bus
type Publisher interface {
	Publish(e Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously to subscribers in subscription order
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	now    func() time.Time
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// Subscribe registers h and returns a function that removes it
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Subscribers reports the number of registered handlers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish stamps e with an id and timestamp if missing and delivers it.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s, e)
	}
}

func deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(e.Type)).
				Uint64("subscriber", s.id).Msg("Event handler panicked")
		}
	}()
	s.handler(e)
}
