package eventlog_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkanalytics/internal/eventlog"
	"vkanalytics/internal/events"
)

func sampleRows(t *testing.T, visitorID string) []events.Event {
	t.Helper()
	b, err := events.NormalizeBatch(visitorID, []events.IncomingEvent{
		{EventType: "click", PageURL: "https://example.com/", Timestamp: "2026-05-01T10:00:00Z"},
		{EventType: "time_on_site", Metadata: map[string]any{"seconds": 12.0}, Timestamp: "2026-05-01T10:00:12Z"},
	}, time.Now())
	require.NoError(t, err)
	return b.Events
}

func TestWriteEventsAndReadFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.log")
	w := eventlog.New(path, 10)

	display := eventlog.Display{Device: "Mac", Browser: "Mac/Safari"}
	require.NoError(t, w.WriteEvents("batch-ok", "v-ok", sampleRows(t, "v-ok"), display, nil))
	require.NoError(t, w.WriteEvents("batch-failed", "v-fail", sampleRows(t, "v-fail"), display, errors.New("database is locked")))
	require.NoError(t, w.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 4)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "v-ok", first["visitor_id"])
	assert.Equal(t, "click", first["event_type"])
	assert.Equal(t, "2026-05-01T10:00:00Z", first["timestamp"])
	assert.NotContains(t, first, "_error")

	var failed map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &failed))
	assert.Equal(t, "database is locked", failed["_error"])

	batches, err := eventlog.ReadFallback(path)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "batch-failed", batches[0].BatchID)
	assert.Equal(t, "v-fail", batches[0].VisitorID)
	assert.Equal(t, "Mac", batches[0].Display.Device)
	require.Len(t, batches[0].Events, 2)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 12, 0, time.UTC), batches[0].Events[1].OccurredAt)
	assert.Equal(t, events.TimeOnSite{Seconds: 12}, batches[0].Events[1].Payload())
}

func TestParseFallbackSkipsNoise(t *testing.T) {
	input := strings.Join([]string{
		`not json`,
		``,
		`{"ts":"2026-05-01T10:00:00Z","visitor_id":"v1","event_type":"click","_error":"boom"}`,
		`{"ts":"2026-05-01T10:00:00Z","visitor_id":"v1","event_type":"tc_open","_error":"boom"}`,
		`{"ts":"2026-05-01T10:00:00Z","visitor_id":"v1","event_type":"page_view","_error":"boom"}`,
		`{"ts":"2026-05-01T10:05:00Z","visitor_id":"v1","event_type":"click"}`,
	}, "\n")

	batches, err := eventlog.ParseFallback(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Events, 2)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), batches[0].Events[0].OccurredAt)
}

type memSink struct {
	strings.Builder
	closed bool
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestWriteSubmission(t *testing.T) {
	sink := &memSink{}
	w := eventlog.NewWithOutput(sink)

	require.NoError(t, w.WriteSubmission("book-a-call", map[string]any{"name": "Ann", "email": "ann@example.com"}))
	require.NoError(t, w.Close())
	assert.True(t, sink.closed)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(sink.String())), &line))
	assert.Equal(t, "book-a-call", line["endpoint"])
	assert.Equal(t, "Ann", line["name"])
	assert.NotEmpty(t, line["ts"])
}

func TestParseFallbackSkipsReplayedBatches(t *testing.T) {
	input := strings.Join([]string{
		`{"ts":"2026-05-01T10:00:00Z","batch_id":"b1","visitor_id":"v1","event_type":"click","_error":"boom"}`,
		`{"ts":"2026-05-01T10:00:00Z","batch_id":"b2","visitor_id":"v2","event_type":"click","_error":"boom"}`,
		`{"ts":"2026-05-02T08:00:00Z","batch_id":"b1","visitor_id":"v1","event_type":"click"}`,
	}, "\n")

	batches, err := eventlog.ParseFallback(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "b2", batches[0].BatchID)
}
