package model

import (
	"time"
)

// EventType is the closed set of upstream notification types the pipeline understands.
type EventType string

const (
	EventTypePaymentSuccess   EventType = "payment.success"
	EventTypeChargeSuccess    EventType = "charge.success"
	EventTypeTransferSuccess  EventType = "transfer.success"
	EventTypeRefundProcessed  EventType = "refund.processed"
	EventTypePOSSaleCompleted EventType = "pos.sale.completed"
	EventTypeBankCreditPosted EventType = "bank.transaction.credit"
	EventTypeBankDebitPosted  EventType = "bank.transaction.debit"
	EventTypeUnhandled        EventType = "unhandled"
)

var knownEventTypes = map[string]EventType{
	string(EventTypePaymentSuccess):   EventTypePaymentSuccess,
	string(EventTypeChargeSuccess):    EventTypeChargeSuccess,
	string(EventTypeTransferSuccess):  EventTypeTransferSuccess,
	string(EventTypeRefundProcessed):  EventTypeRefundProcessed,
	string(EventTypePOSSaleCompleted): EventTypePOSSaleCompleted,
	string(EventTypeBankCreditPosted): EventTypeBankCreditPosted,
	string(EventTypeBankDebitPosted):  EventTypeBankDebitPosted,
}

// ParseEventType maps a raw upstream tag onto a known EventType.
// Anything not in the closed set becomes EventTypeUnhandled.
func ParseEventType(raw string) EventType {
	if t, ok := knownEventTypes[raw]; ok {
		return t
	}
	return EventTypeUnhandled
}

func (t EventType) Known() bool {
	_, ok := knownEventTypes[string(t)]
	return ok
}

// InboundEvent is a single authenticated delivery. It is never mutated after receipt.
type InboundEvent struct {
	DeliveryID       string    `json:"delivery_id"`
	Source           string    `json:"source"`
	EventID          string    `json:"event_id"`
	EventType        EventType `json:"event_type"`
	RawEventType     string    `json:"raw_event_type"`
	ReceivedAt       time.Time `json:"received_at"`
	RawPayload       []byte    `json:"raw_payload"`
	ClaimedSignature string    `json:"claimed_signature"`
	ClaimedTimestamp time.Time `json:"claimed_timestamp"`
	VATInclusive     bool      `json:"vat_inclusive"`
	TraceID          string    `json:"trace_id,omitempty"`
}

// DedupKey identifies a logical event across redeliveries.
// Event ids are only unique per source, so the key is scoped by source as well.
func (e InboundEvent) DedupKey() string {
	return DedupKeyFor(e.Source, e.RawEventType, e.EventID)
}

func DedupKeyFor(source, eventType, eventID string) string {
	if source == "" {
		return eventType + ":" + eventID
	}
	return source + ":" + eventType + ":" + eventID
}
