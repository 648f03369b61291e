// Package queue keeps the dead-letter stream: events the pipeline gave up on, with
// enough context for an operator to inspect and replay them.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"taxrelay.app/relay/internal/model"
)

// StreamClient is the subset of go-redis the dead-letter stream needs.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
}

type DeadLetterConfig struct {
	Stream string // Redis stream name
	MaxLen int64  // Approximate cap on retained entries, 0 = unbounded
}

type DeadLetterStream struct {
	client StreamClient
	cfg    DeadLetterConfig
}

func NewDeadLetterStream(client StreamClient, cfg DeadLetterConfig) *DeadLetterStream {
	if cfg.Stream == "" {
		cfg.Stream = "relay_dead_letters"
	}
	return &DeadLetterStream{client: client, cfg: cfg}
}

// Publish appends dl to the stream.
func (s *DeadLetterStream) Publish(ctx context.Context, dl model.DeadLetter) error {
	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: deadLetterValues(dl),
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", s.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "dead letter appended", "dlq_stream", s.cfg.Stream, "dead_letter_id", dl.ID)
	return nil
}

// Entry is a dead letter as stored, with its stream id.
type Entry struct {
	StreamID   string           `json:"stream_id"`
	DeadLetter model.DeadLetter `json:"dead_letter"`
}

// List returns up to count entries, newest first. Entries that cannot be parsed are skipped.
func (s *DeadLetterStream) List(ctx context.Context, count int64) ([]Entry, error) {
	if count <= 0 {
		count = 50
	}

	msgs, err := s.client.XRevRangeN(ctx, s.cfg.Stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange dlq (stream=%s): %w", s.cfg.Stream, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		dl, err := ParseDeadLetter(msg)
		if err != nil {
			slog.WarnContext(ctx, "skipping unparseable dead letter", "error", err, "stream_id", msg.ID)
			continue
		}
		entries = append(entries, Entry{StreamID: msg.ID, DeadLetter: dl})
	}
	return entries, nil
}

func deadLetterValues(dl model.DeadLetter) map[string]any {
	e := dl.Event
	values := map[string]any{
		"id":                dl.ID,
		"error":             dl.FinalError,
		"error_kind":        string(dl.ErrorKind),
		"attempt_count":     dl.AttemptCount,
		"dead_at":           dl.DeadAt.UTC().Format(time.RFC3339Nano),
		"delivery_id":       e.DeliveryID,
		"source":            e.Source,
		"event_id":          e.EventID,
		"event_type":        string(e.EventType),
		"raw_event_type":    e.RawEventType,
		"dedup_key":         e.DedupKey(),
		"received_at":       e.ReceivedAt.UTC().Format(time.RFC3339Nano),
		"claimed_timestamp": e.ClaimedTimestamp.UTC().Format(time.RFC3339Nano),
		"vat_inclusive":     strconv.FormatBool(e.VATInclusive),
		"payload":           string(e.RawPayload),
	}
	if e.ClaimedSignature != "" {
		values["claimed_signature"] = e.ClaimedSignature
	}
	if e.TraceID != "" {
		values["trace_id"] = e.TraceID
	}
	return values
}

func ParseDeadLetter(msg redis.XMessage) (model.DeadLetter, error) {
	id, err := parseInt64(msg.Values, "id")
	if err != nil {
		return model.DeadLetter{}, err
	}
	attempts, err := parseInt(msg.Values, "attempt_count")
	if err != nil {
		return model.DeadLetter{}, err
	}
	deadAt, err := parseTime(msg.Values, "dead_at")
	if err != nil {
		return model.DeadLetter{}, err
	}
	receivedAt, err := parseTime(msg.Values, "received_at")
	if err != nil {
		return model.DeadLetter{}, err
	}
	claimedAt, err := parseTime(msg.Values, "claimed_timestamp")
	if err != nil {
		return model.DeadLetter{}, err
	}
	source, err := parseString(msg.Values, "source")
	if err != nil {
		return model.DeadLetter{}, err
	}
	eventID, err := parseString(msg.Values, "event_id")
	if err != nil {
		return model.DeadLetter{}, err
	}

	vatInclusive, _ := strconv.ParseBool(parseOptionalString(msg.Values, "vat_inclusive"))

	return model.DeadLetter{
		ID:           id,
		FinalError:   parseOptionalString(msg.Values, "error"),
		ErrorKind:    model.ErrorKind(parseOptionalString(msg.Values, "error_kind")),
		AttemptCount: attempts,
		DeadAt:       deadAt,
		Event: model.InboundEvent{
			DeliveryID:       parseOptionalString(msg.Values, "delivery_id"),
			Source:           source,
			EventID:          eventID,
			EventType:        model.EventType(parseOptionalString(msg.Values, "event_type")),
			RawEventType:     parseOptionalString(msg.Values, "raw_event_type"),
			ReceivedAt:       receivedAt,
			RawPayload:       []byte(parseOptionalString(msg.Values, "payload")),
			ClaimedSignature: parseOptionalString(msg.Values, "claimed_signature"),
			ClaimedTimestamp: claimedAt,
			VATInclusive:     vatInclusive,
			TraceID:          parseOptionalString(msg.Values, "trace_id"),
		},
	}, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func parseTime(values map[string]any, key string) (time.Time, error) {
	raw, err := parseString(values, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", key, err)
	}
	return t, nil
}
