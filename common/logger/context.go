package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// The ingestion path enriches the context once per stage so downstream log calls
// carry delivery and transaction identifiers without passing them explicitly.
type LogFields struct {
	DeliveryID    *string // Per-delivery uuid assigned at receipt
	Source        *string // Configured source name (e.g. "paystack")
	EventID       *string // Source-assigned event id
	EventType     *string // Raw event type tag
	DedupKey      *string // source:event_type:event_id
	TransactionID *string // Transaction id extracted from the payload
	Attempt       *int    // Processing attempt, 1-based
	Component     string  // Component name, e.g. "relay.retry.scheduler"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.DeliveryID != nil {
		result.DeliveryID = new.DeliveryID
	}
	if new.Source != nil {
		result.Source = new.Source
	}
	if new.EventID != nil {
		result.EventID = new.EventID
	}
	if new.EventType != nil {
		result.EventType = new.EventType
	}
	if new.DedupKey != nil {
		result.DedupKey = new.DedupKey
	}
	if new.TransactionID != nil {
		result.TransactionID = new.TransactionID
	}
	if new.Attempt != nil {
		result.Attempt = new.Attempt
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{EventID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
