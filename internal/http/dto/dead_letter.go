package dto

import "time"

type ListDeadLettersQuery struct {
	Count int64 `form:"count" binding:"omitempty,min=1,max=500"`
}

type DeadLetterResponse struct {
	StreamID     string    `json:"stream_id"`
	ID           int64     `json:"id,string"`
	Source       string    `json:"source"`
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	DeliveryID   string    `json:"delivery_id"`
	ErrorKind    string    `json:"error_kind"`
	FinalError   string    `json:"final_error"`
	AttemptCount int       `json:"attempt_count"`
	ReceivedAt   time.Time `json:"received_at"`
	DeadAt       time.Time `json:"dead_at"`
	Payload      string    `json:"payload"`
}

type ListDeadLettersResponse struct {
	DeadLetters []DeadLetterResponse `json:"dead_letters"`
	Count       int                  `json:"count"`
}
