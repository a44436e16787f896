package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ValidationError is a client mistake in an ingestion request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrInvalidVisitorID = &ValidationError{Message: "Missing or invalid visitor_id"}
	ErrInvalidBatchSize = &ValidationError{Message: fmt.Sprintf("events must be a non-empty array (max %d)", MaxBatchSize)}
	ErrNoValidEvents    = &ValidationError{Message: "No valid event_type in events"}
	ErrMalformedBody    = &ValidationError{Message: "Invalid JSON body"}
)

// IncomingEvent is one event as posted by the browser. Every field except
// event_type is optional.
type IncomingEvent struct {
	EventType   string `json:"event_type"`
	Timestamp   any    `json:"timestamp,omitempty"`
	PageURL     string `json:"page_url,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	Metadata    any    `json:"metadata,omitempty"`
}

// Batch is the validated form of an ingestion request.
type Batch struct {
	VisitorID string
	Events    []Event
}

// First returns the event that seeds the visitor upsert.
func (b Batch) First() Event {
	return b.Events[0]
}

type rawBatch struct {
	VisitorID any             `json:"visitor_id"`
	Events    json.RawMessage `json:"events"`
}

// ParseBatch decodes and validates a request body. Elements of events that
// are not objects, or whose type is not allowed, are dropped.
func ParseBatch(body []byte, now time.Time) (Batch, error) {
	var rb rawBatch
	if err := json.Unmarshal(body, &rb); err != nil {
		return Batch{}, ErrMalformedBody
	}

	visitorID, _ := rb.VisitorID.(string)

	var elements []json.RawMessage
	if len(rb.Events) > 0 {
		if err := json.Unmarshal(rb.Events, &elements); err != nil {
			elements = nil
		}
	}

	incoming := make([]IncomingEvent, 0, len(elements))
	for _, el := range elements {
		var ev IncomingEvent
		if err := json.Unmarshal(el, &ev); err != nil {
			// keep the slot so the batch size check sees it, the type filter drops it
			incoming = append(incoming, IncomingEvent{})
			continue
		}
		incoming = append(incoming, ev)
	}

	return NormalizeBatch(visitorID, incoming, now)
}

// NormalizeBatch validates the visitor id and batch size, drops events with
// unknown types and converts the rest to rows.
func NormalizeBatch(visitorID string, incoming []IncomingEvent, now time.Time) (Batch, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" || len([]rune(visitorID)) > maxVisitorIDLength {
		return Batch{}, ErrInvalidVisitorID
	}
	if len(incoming) == 0 || len(incoming) > MaxBatchSize {
		return Batch{}, ErrInvalidBatchSize
	}

	batch := Batch{VisitorID: visitorID}
	for _, in := range incoming {
		if !IsAllowed(in.EventType) {
			continue
		}
		batch.Events = append(batch.Events, in.toEvent(visitorID, now))
	}
	if len(batch.Events) == 0 {
		return Batch{}, ErrNoValidEvents
	}
	return batch, nil
}

func (in IncomingEvent) toEvent(visitorID string, now time.Time) Event {
	occurred, ok := ParseTimestamp(in.Timestamp)
	if !ok {
		occurred = now
	}

	var meta JSONObject
	if m, ok := in.Metadata.(map[string]any); ok {
		meta = JSONObject(m)
	}

	return Event{
		VisitorID:   visitorID,
		EventType:   EventType(truncate(in.EventType, maxEventTypeLength)),
		OccurredAt:  occurred.UTC().Truncate(time.Second),
		PageURL:     nullable(in.PageURL, maxURLLength),
		Referrer:    nullable(in.Referrer, maxURLLength),
		UTMSource:   nullable(in.UTMSource, maxUTMShortLength),
		UTMMedium:   nullable(in.UTMMedium, maxUTMShortLength),
		UTMCampaign: nullable(in.UTMCampaign, maxUTMLongLength),
		UTMTerm:     nullable(in.UTMTerm, maxUTMLongLength),
		UTMContent:  nullable(in.UTMContent, maxUTMLongLength),
		Metadata:    meta,
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts an ISO-8601 string, a numeric string or a number of
// epoch milliseconds.
func ParseTimestamp(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		return fromMillis(ts)
	case int64:
		return fromMillis(float64(ts))
	case json.Number:
		f, err := ts.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromMillis(f)
	case string:
		s := strings.TrimSpace(ts)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromMillis(f)
		}
	}
	return time.Time{}, false
}

func fromMillis(ms float64) (time.Time, bool) {
	if ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func nullable(s string, max int) *string {
	if s == "" {
		return nil
	}
	t := truncate(s, max)
	return &t
}
