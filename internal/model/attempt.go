package model

import "time"

// ProcessingAttempt tracks a failing event between retries. Only the retry scheduler touches it.
type ProcessingAttempt struct {
	DedupKey     string       `json:"dedup_key"`
	Event        InboundEvent `json:"event"`
	AttemptCount int          `json:"attempt_count"`
	LastError    string       `json:"last_error"`
	NextRetryAt  time.Time    `json:"next_retry_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// DeadLetter is what operators see for an event that could not be processed automatically.
type DeadLetter struct {
	ID           int64        `json:"id"`
	Event        InboundEvent `json:"event"`
	FinalError   string       `json:"final_error"`
	ErrorKind    ErrorKind    `json:"error_kind"`
	AttemptCount int          `json:"attempt_count"`
	DeadAt       time.Time    `json:"dead_at"`
}
