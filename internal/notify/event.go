// Package notify delivers negotiation events to the party who did not act.
//
// Events are published after the command's transaction commits. Delivery is
// best effort: a full queue or a failing sink is logged and never reported
// back to the command.
package notify

import "time"

// EventType names a state change
type EventType string

// Event types emitted by the negotiation engine
const (
	TimeProposed      EventType = "time_proposed"
	TimeCountered     EventType = "time_countered"
	TimeAccepted      EventType = "time_accepted"
	TimeRejected      EventType = "time_rejected"
	PaymentPartial    EventType = "payment_partial"
	PaymentComplete   EventType = "payment_complete"
	LocationProposed  EventType = "location_proposed"
	LocationCountered EventType = "location_countered"
	LocationAccepted  EventType = "location_accepted"
	LocationRejected  EventType = "location_rejected"
	ExchangeConfirmed EventType = "exchange_confirmed"
	ExchangeCompleted EventType = "exchange_completed"
	AccessRevoked     EventType = "access_revoked"
)

// Event is a single notification addressed to one recipient
type Event struct {
	Type          EventType         `json:"type"`
	ListingID     string            `json:"listing_id"`
	NegotiationID string            `json:"negotiation_id,omitempty"`
	ActorID       string            `json:"actor_id"`
	ActorName     string            `json:"actor_name,omitempty"`
	RecipientID   string            `json:"recipient_id"`
	MeetingTime   *time.Time        `json:"meeting_time,omitempty"`
	PlaceName     string            `json:"place_name,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// Publisher accepts events for asynchronous delivery
type Publisher interface {
	Publish(evt Event)
}

// Discard drops every event
type Discard struct{}

// Publish does nothing
func (Discard) Publish(Event) {}
