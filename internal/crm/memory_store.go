package crm

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// MemoryRow is a CRM row held by MemoryStore.
type MemoryRow struct {
	ID     string
	Record Record
	// Body accumulates note blocks; "---" marks a divider.
	Body []string
}

// MemoryStore keeps CRM rows in process. Used by tests and by development
// setups without Notion credentials.
type MemoryStore struct {
	mu   sync.Mutex
	rows []*MemoryRow
	seq  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) FindByURL(_ context.Context, property, url string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		v := r.Record.WebsiteURL
		if property == PropertyLinkedInURL {
			v = r.Record.LinkedInURL
		}
		if v != "" && v == url {
			return r.ID, true, nil
		}
	}
	return "", false, nil
}

func (m *MemoryStore) FindByTitle(_ context.Context, title string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if strings.EqualFold(r.Record.Title, title) {
			return r.ID, true, nil
		}
	}
	return "", false, nil
}

func (m *MemoryStore) Create(_ context.Context, rec Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	row := &MemoryRow{ID: "page-" + strconv.Itoa(m.seq), Record: rec, Body: append([]string(nil), rec.Notes...)}
	m.rows = append(m.rows, row)
	return row.ID, nil
}

func (m *MemoryStore) Update(_ context.Context, pageID string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID != pageID {
			continue
		}
		// URLs are only overwritten when the new lead carries one
		if rec.WebsiteURL == "" {
			rec.WebsiteURL = r.Record.WebsiteURL
		}
		if rec.LinkedInURL == "" {
			rec.LinkedInURL = r.Record.LinkedInURL
		}
		body := r.Body
		if len(rec.Notes) > 0 {
			body = append(append(body, "---"), rec.Notes...)
		}
		r.Record = rec
		r.Body = body
		return nil
	}
	return ErrPageNotFound
}

// Rows returns a snapshot of the stored rows.
func (m *MemoryStore) Rows() []MemoryRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryRow, len(m.rows))
	for i, r := range m.rows {
		out[i] = *r
	}
	return out
}
