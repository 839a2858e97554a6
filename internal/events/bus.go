// Package events is the in-process pub/sub bus the API's websocket
// handler and the chat notifier subscribe to. Trimmed from the
// teacher's EventBus, which additionally carried a per-user broadcast
// callback layer ("Epic 12") for its multi-tenant websocket fanout;
// a single-owner engine has one subscriber set, not one per user, so
// that layer is dropped rather than adapted unused.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system.
type EventType string

const (
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventPartialClose    EventType = "PARTIAL_CLOSE"
	EventAveraging       EventType = "AVERAGING"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventRegimeSwitch    EventType = "REGIME_SWITCH"
	EventRiskGuardTripped EventType = "RISK_GUARD_TRIPPED"
	EventRiskGuardCleared EventType = "RISK_GUARD_CLEARED"
	EventPriceUpdate     EventType = "PRICE_UPDATE"
	EventPositionUpdate  EventType = "POSITION_UPDATE"
	EventSchedulerStarted EventType = "SCHEDULER_STARTED"
	EventSchedulerStopped EventType = "SCHEDULER_STOPPED"
	EventError           EventType = "ERROR"
)

// Event represents a system event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events.
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events.
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event.
func (eb *EventBus) PublishTradeOpened(symbol, side string, entryPrice, quantity float64) {
	eb.Publish(Event{Type: EventTradeOpened, Data: map[string]interface{}{
		"symbol": symbol, "side": side, "entry_price": entryPrice, "quantity": quantity,
	}})
}

// PublishTradeClosed publishes a trade closed event.
func (eb *EventBus) PublishTradeClosed(symbol, reason string, entryPrice, exitPrice, quantity, pnl, pnlPercent float64) {
	eb.Publish(Event{Type: EventTradeClosed, Data: map[string]interface{}{
		"symbol": symbol, "reason": reason, "entry_price": entryPrice, "exit_price": exitPrice,
		"quantity": quantity, "pnl": pnl, "pnl_percent": pnlPercent,
	}})
}

// PublishSignal publishes a signal generated event.
func (eb *EventBus) PublishSignal(symbol, kind, blockReason string, votesDelta int, price float64) {
	eb.Publish(Event{Type: EventSignalGenerated, Data: map[string]interface{}{
		"symbol": symbol, "kind": kind, "block_reason": blockReason, "votes_delta": votesDelta, "price": price,
	}})
}

// PublishRegimeSwitch publishes a regime transition event.
func (eb *EventBus) PublishRegimeSwitch(symbol, fromMode, toMode string, adx float64) {
	eb.Publish(Event{Type: EventRegimeSwitch, Data: map[string]interface{}{
		"symbol": symbol, "from_mode": fromMode, "to_mode": toMode, "adx": adx,
	}})
}

// PublishRiskGuardTripped publishes a risk-guard trip event.
func (eb *EventBus) PublishRiskGuardTripped(reason string) {
	eb.Publish(Event{Type: EventRiskGuardTripped, Data: map[string]interface{}{"reason": reason}})
}

// PublishRiskGuardCleared publishes a risk-guard recovery event.
func (eb *EventBus) PublishRiskGuardCleared() {
	eb.Publish(Event{Type: EventRiskGuardCleared, Data: map[string]interface{}{}})
}

// PublishPriceUpdate publishes a price update event.
func (eb *EventBus) PublishPriceUpdate(symbol string, price float64) {
	eb.Publish(Event{Type: EventPriceUpdate, Data: map[string]interface{}{"symbol": symbol, "price": price}})
}

// PublishPositionUpdate publishes a position update event.
func (eb *EventBus) PublishPositionUpdate(symbol string, entryPrice, currentPrice, quantity, pnl, pnlPercent float64) {
	eb.Publish(Event{Type: EventPositionUpdate, Data: map[string]interface{}{
		"symbol": symbol, "entry_price": entryPrice, "current_price": currentPrice,
		"quantity": quantity, "pnl": pnl, "pnl_percent": pnlPercent,
	}})
}

// PublishError publishes an error event.
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{"source": source, "message": message}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
