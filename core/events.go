package core

import "context"

// =============================================================================
// DOMAIN EVENTS - Published after the store transaction commits
// =============================================================================

type EventType string

const (
	EventPaymentRecorded  EventType = "payment.recorded"
	EventStateChanged     EventType = "subscription.state_changed"
	EventBalanceConsumed  EventType = "balance.consumed"
	EventBalanceCredited  EventType = "balance.credited"
	EventPackageOpened    EventType = "balance.package_opened"
	EventPackageExpired   EventType = "balance.package_expired"
	EventCashFlowRecorded EventType = "cashflow.recorded"
)

type Event struct {
	Type    EventType `json:"type"`
	Key     string    `json:"key"` // customer or subscription id
	At      string    `json:"at"`  // asOf, YYYY-MM-DD
	Payload any       `json:"payload"`
}

func NewEvent(t EventType, key string, at TimePoint, payload any) Event {
	return Event{Type: t, Key: key, At: at.String(), Payload: payload}
}

// Publisher delivers events to interested services. Publishing failures
// never undo a committed operation.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
