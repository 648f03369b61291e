package dto

type DeliveryResponse struct {
	Status      string `json:"status"`
	DeliveryID  string `json:"delivery_id,omitempty"`
	EventID     string `json:"event_id,omitempty"`
	EventType   string `json:"event_type,omitempty"`
	LineID      string `json:"line_id,omitempty"`
	NeedsReview *bool  `json:"needs_review,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	NextRetryAt string `json:"next_retry_at,omitempty"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}
