package events_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkanalytics/internal/events"
)

var batchNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeBatch(t *testing.T) {
	t.Run("rejects missing or long visitor ids", func(t *testing.T) {
		_, err := events.NormalizeBatch("   ", []events.IncomingEvent{{EventType: "click"}}, batchNow)
		assert.Equal(t, events.ErrInvalidVisitorID, err)

		_, err = events.NormalizeBatch(strings.Repeat("x", 65), []events.IncomingEvent{{EventType: "click"}}, batchNow)
		assert.Equal(t, events.ErrInvalidVisitorID, err)
	})

	t.Run("rejects empty and oversized batches", func(t *testing.T) {
		_, err := events.NormalizeBatch("v1", nil, batchNow)
		assert.Equal(t, events.ErrInvalidBatchSize, err)

		tooMany := make([]events.IncomingEvent, events.MaxBatchSize+1)
		for i := range tooMany {
			tooMany[i] = events.IncomingEvent{EventType: "click"}
		}
		_, err = events.NormalizeBatch("v1", tooMany, batchNow)
		assert.Equal(t, events.ErrInvalidBatchSize, err)
		assert.Equal(t, "events must be a non-empty array (max 20)", err.Error())
	})

	t.Run("drops unknown types and fails when none remain", func(t *testing.T) {
		_, err := events.NormalizeBatch("v1", []events.IncomingEvent{{EventType: "page_view"}, {EventType: ""}}, batchNow)
		assert.Equal(t, events.ErrNoValidEvents, err)

		b, err := events.NormalizeBatch(" v1 ", []events.IncomingEvent{
			{EventType: "page_view"},
			{EventType: "click", PageURL: "https://example.com/"},
		}, batchNow)
		require.NoError(t, err)
		assert.Equal(t, "v1", b.VisitorID)
		require.Len(t, b.Events, 1)
		assert.Equal(t, events.TypeClick, b.First().EventType)
		assert.Equal(t, "https://example.com/", *b.First().PageURL)
		assert.Nil(t, b.First().Referrer)
	})

	t.Run("uses client timestamps when parseable", func(t *testing.T) {
		b, err := events.NormalizeBatch("v1", []events.IncomingEvent{
			{EventType: "click", Timestamp: "2026-03-31T08:15:30.250Z"},
			{EventType: "click", Timestamp: float64(time.Date(2026, 3, 30, 1, 2, 3, 0, time.UTC).UnixMilli())},
			{EventType: "click", Timestamp: "not a date"},
		}, batchNow)
		require.NoError(t, err)
		require.Len(t, b.Events, 3)
		assert.Equal(t, time.Date(2026, 3, 31, 8, 15, 30, 0, time.UTC), b.Events[0].OccurredAt)
		assert.Equal(t, time.Date(2026, 3, 30, 1, 2, 3, 0, time.UTC), b.Events[1].OccurredAt)
		assert.Equal(t, batchNow, b.Events[2].OccurredAt)
	})

	t.Run("truncates to column limits and keeps object metadata", func(t *testing.T) {
		b, err := events.NormalizeBatch("v1", []events.IncomingEvent{
			{EventType: "form_submit", UTMSource: strings.Repeat("s", 200), Metadata: map[string]any{"form_id": "form-book-call"}},
			{EventType: "click", Metadata: "not an object"},
		}, batchNow)
		require.NoError(t, err)
		assert.Len(t, *b.Events[0].UTMSource, 128)
		assert.Equal(t, events.FormSubmit{FormID: "form-book-call"}, b.Events[0].Payload())
		assert.Nil(t, b.Events[1].Metadata)
	})
}

func TestParseBatch(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		_, err := events.ParseBatch([]byte(`{"visitor_id":`), batchNow)
		assert.Equal(t, events.ErrMalformedBody, err)
	})

	t.Run("non-string visitor id", func(t *testing.T) {
		_, err := events.ParseBatch([]byte(`{"visitor_id":42,"events":[{"event_type":"click"}]}`), batchNow)
		assert.Equal(t, events.ErrInvalidVisitorID, err)
	})

	t.Run("events must be an array", func(t *testing.T) {
		_, err := events.ParseBatch([]byte(`{"visitor_id":"v1","events":{"event_type":"click"}}`), batchNow)
		assert.Equal(t, events.ErrInvalidBatchSize, err)
	})

	t.Run("bad elements are dropped", func(t *testing.T) {
		body := `{"visitor_id":"v1","events":[7,{"event_type":3},{"event_type":"time_on_site","metadata":{"seconds":45}}]}`
		b, err := events.ParseBatch([]byte(body), batchNow)
		require.NoError(t, err)
		require.Len(t, b.Events, 1)
		assert.Equal(t, events.TimeOnSite{Seconds: 45}, b.Events[0].Payload())
	})

	t.Run("oversized counts every element", func(t *testing.T) {
		parts := make([]string, 21)
		for i := range parts {
			parts[i] = fmt.Sprintf(`{"event_type":"click","page_url":"/p%d"}`, i)
		}
		_, err := events.ParseBatch([]byte(`{"visitor_id":"v1","events":[`+strings.Join(parts, ",")+`]}`), batchNow)
		assert.Equal(t, events.ErrInvalidBatchSize, err)
	})
}

func TestAllowedEventTypes(t *testing.T) {
	assert.Len(t, events.AllowedEventTypes(), 20)
	assert.True(t, events.IsAllowed("theme_switch"))
	assert.True(t, events.IsAllowed("video_modal_close"))
	assert.False(t, events.IsAllowed("page_view"))
	assert.False(t, events.IsAllowed(""))
}
