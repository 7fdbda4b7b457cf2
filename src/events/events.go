package events

import (
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Type labels one engine event.
type Type string

const (
	TypeOrderPlaced         Type = "order_placed"
	TypeOrderFilled         Type = "order_filled"
	TypeOrderCanceled       Type = "order_canceled"
	TypeOrderFailed         Type = "order_failed"
	TypeDuplicateSuppressed Type = "duplicate_suppressed"
	TypeTradeCompleted      Type = "trade_completed"
	TypeUnmatchedExit       Type = "unmatched_exit"
	TypeRiskRejected        Type = "risk_rejected"
	TypeBreakerTripped      Type = "breaker_tripped"
	TypeBreakerResolved     Type = "breaker_resolved"
	TypeStrategyPaused      Type = "strategy_paused"
	TypeStrategyStarted     Type = "strategy_started"
	TypeStrategyStopped     Type = "strategy_stopped"
	TypeEngineStarted       Type = "engine_started"
	TypeEngineStopped       Type = "engine_stopped"
)

// Event is one engine occurrence, fanned out to the ops websocket and the
// optional Kafka sink.
type Event struct {
	Type       Type                   `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	AccountID  uint                   `json:"account_id,omitempty"`
	StrategyID uint                   `json:"strategy_id,omitempty"`
	Symbol     string                 `json:"symbol,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full loses the event with a warning, so a stuck websocket
// can't stall a strategy loop.
type Bus struct {
	mu         sync.RWMutex
	subs       map[int]chan *Event
	nextID     int
	bufferSize int
	closed     bool
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Bus{
		subs:       make(map[int]chan *Event),
		bufferSize: bufferSize,
	}
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			logger.WithFields(map[string]interface{}{
				"component":  "EventBus",
				"subscriber": id,
				"event":      event.Type,
			}).Warn("Subscriber buffer full, dropping event")
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe or bus Close.
func (b *Bus) Subscribe() (<-chan *Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan *Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
