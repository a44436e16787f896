// Package eventlog writes the append-only NDJSON audit and fallback logs.
package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/natefinch/lumberjack.v2"

	"vkanalytics/internal/events"
)

// EventLine is one event as written to events.log. Lines carrying Error
// are batches that did not reach the store.
type EventLine struct {
	Ts              string            `json:"ts"`
	BatchID         string            `json:"batch_id,omitempty"`
	VisitorID       string            `json:"visitor_id"`
	EventType       string            `json:"event_type"`
	Timestamp       string            `json:"timestamp,omitempty"`
	PageURL         *string           `json:"page_url,omitempty"`
	Referrer        *string           `json:"referrer,omitempty"`
	UTMSource       *string           `json:"utm_source,omitempty"`
	UTMMedium       *string           `json:"utm_medium,omitempty"`
	UTMCampaign     *string           `json:"utm_campaign,omitempty"`
	UTMTerm         *string           `json:"utm_term,omitempty"`
	UTMContent      *string           `json:"utm_content,omitempty"`
	Metadata        events.JSONObject `json:"metadata,omitempty"`
	DeviceDisplay   string            `json:"device_display,omitempty"`
	BrowserDisplay  string            `json:"browser_display,omitempty"`
	LocationDisplay string            `json:"location_display,omitempty"`
	Error           string            `json:"_error,omitempty"`
}

// Event converts the line back into a row for re-ingestion.
func (l EventLine) Event() events.Event {
	occurred, err := time.Parse(time.RFC3339, l.Timestamp)
	if err != nil {
		occurred, _ = time.Parse(time.RFC3339Nano, l.Ts)
	}
	return events.Event{
		VisitorID:   l.VisitorID,
		EventType:   events.EventType(l.EventType),
		OccurredAt:  occurred.UTC().Truncate(time.Second),
		PageURL:     l.PageURL,
		Referrer:    l.Referrer,
		UTMSource:   l.UTMSource,
		UTMMedium:   l.UTMMedium,
		UTMCampaign: l.UTMCampaign,
		UTMTerm:     l.UTMTerm,
		UTMContent:  l.UTMContent,
		Metadata:    l.Metadata,
	}
}

// Display holds the visitor context stored next to each event line.
type Display struct {
	Device   string
	Browser  string
	Location string
}

// Writer appends NDJSON lines to a size-rotated file. Rotated files are
// kept indefinitely.
type Writer struct {
	mu  sync.Mutex
	out io.WriteCloser
	now func() time.Time
}

// New opens a writer on path, rotating once the file reaches maxSizeMB.
func New(path string, maxSizeMB int) *Writer {
	return NewWithOutput(&lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSizeMB,
	})
}

// NewWithOutput wraps an arbitrary sink.
func NewWithOutput(out io.WriteCloser) *Writer {
	return &Writer{out: out, now: time.Now}
}

// WriteEvents appends one line per event of a batch. A non-nil cause marks
// every line as a fallback entry.
func (w *Writer) WriteEvents(batchID, visitorID string, rows []events.Event, display Display, cause error) error {
	if len(rows) == 0 {
		return nil
	}

	ts := w.now().UTC().Format(time.RFC3339Nano)
	lines := make([]any, 0, len(rows))
	for _, ev := range rows {
		line := EventLine{
			Ts:              ts,
			BatchID:         batchID,
			VisitorID:       visitorID,
			EventType:       string(ev.EventType),
			PageURL:         ev.PageURL,
			Referrer:        ev.Referrer,
			UTMSource:       ev.UTMSource,
			UTMMedium:       ev.UTMMedium,
			UTMCampaign:     ev.UTMCampaign,
			UTMTerm:         ev.UTMTerm,
			UTMContent:      ev.UTMContent,
			Metadata:        ev.Metadata,
			DeviceDisplay:   display.Device,
			BrowserDisplay:  display.Browser,
			LocationDisplay: display.Location,
		}
		if !ev.OccurredAt.IsZero() {
			line.Timestamp = ev.OccurredAt.UTC().Format(time.RFC3339)
		}
		if cause != nil {
			line.Error = cause.Error()
		}
		lines = append(lines, line)
	}
	return w.write(lines)
}

// WriteSubmission appends a form submission as {ts, endpoint, ...payload}.
func (w *Writer) WriteSubmission(endpoint string, payload map[string]any) error {
	line := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		line[k] = v
	}
	line["ts"] = w.now().UTC().Format(time.RFC3339Nano)
	line["endpoint"] = endpoint
	return w.write([]any{line})
}

func (w *Writer) write(lines []any) error {
	var buf []byte
	for _, l := range lines {
		b, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("failed to encode log line: %w", err)
		}
		buf = append(buf, b...)
		buf = append(buf, '\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(buf); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}

// FailedBatch groups the fallback lines written for one ingestion request.
type FailedBatch struct {
	BatchID   string
	VisitorID string
	Display   Display
	Events    []events.Event
}

// ReadFallback returns the batches in path that were logged with an error,
// in file order. Lines without a batch id are grouped per visitor and ts.
// A batch whose id later shows up on an error-free line has been replayed
// already and is skipped.
func ReadFallback(path string) ([]FailedBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ParseFallback(f)
}

// ParseFallback is ReadFallback over an arbitrary reader.
func ParseFallback(r io.Reader) ([]FailedBatch, error) {
	var (
		batches  []FailedBatch
		index    = map[string]int{}
		replayed = map[string]bool{}
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line EventLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}
		if line.Error == "" {
			if line.BatchID != "" {
				replayed[line.BatchID] = true
			}
			continue
		}
		if line.VisitorID == "" || !events.IsAllowed(line.EventType) {
			continue
		}

		key := line.BatchID
		if key == "" {
			key = line.VisitorID + "|" + line.Ts
		}
		i, ok := index[key]
		if !ok {
			batches = append(batches, FailedBatch{
				BatchID:   line.BatchID,
				VisitorID: line.VisitorID,
				Display: Display{
					Device:   line.DeviceDisplay,
					Browser:  line.BrowserDisplay,
					Location: line.LocationDisplay,
				},
			})
			i = len(batches) - 1
			index[key] = i
		}
		batches[i].Events = append(batches[i].Events, line.Event())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fallback log: %w", err)
	}

	pending := batches[:0]
	for _, b := range batches {
		if b.BatchID != "" && replayed[b.BatchID] {
			continue
		}
		pending = append(pending, b)
	}
	return pending, nil
}
