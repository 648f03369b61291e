package router

import (
	"errors"

	"github.com/tidwall/gjson"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Envelope is what the ingress needs from a payload before authenticating and deduplicating it.
type Envelope struct {
	EventType string
	EventID   string
}

// ReadEnvelope finds the event type ("event" or "type") and the event id ("id" or "data.id").
func ReadEnvelope(payload []byte) (Envelope, error) {
	if !gjson.ValidBytes(payload) {
		return Envelope{}, ErrMalformedPayload
	}

	r := gjson.ParseBytes(payload)
	env := Envelope{
		EventType: firstString(r, "event", "type"),
		EventID:   firstString(r, "id", "event_id", "data.id"),
	}
	if env.EventType == "" {
		return env, errors.New("payload has no event type")
	}
	if env.EventID == "" {
		return env, errors.New("payload has no event id")
	}
	return env, nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
