package events

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Event is one stored visitor interaction. Rows are never updated.
type Event struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	VisitorID   string     `gorm:"column:visitor_id;size:64;not null;index" json:"visitor_id"`
	EventType   EventType  `gorm:"column:event_type;size:64;not null;index" json:"event_type"`
	OccurredAt  time.Time  `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
	PageURL     *string    `gorm:"column:page_url;size:512" json:"page_url"`
	Referrer    *string    `gorm:"column:referrer;size:512" json:"referrer"`
	UTMSource   *string    `gorm:"column:utm_source;size:128" json:"utm_source"`
	UTMMedium   *string    `gorm:"column:utm_medium;size:128" json:"utm_medium"`
	UTMCampaign *string    `gorm:"column:utm_campaign;size:256" json:"utm_campaign"`
	UTMTerm     *string    `gorm:"column:utm_term;size:256" json:"utm_term"`
	UTMContent  *string    `gorm:"column:utm_content;size:256" json:"utm_content"`
	Metadata    JSONObject `gorm:"column:metadata;type:text" json:"metadata"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName pins the table name used by the raw queries.
func (Event) TableName() string {
	return "events"
}

// Payload returns the typed view of the event metadata.
func (e Event) Payload() Metadata {
	return DecodeMetadata(e.EventType, e.Metadata)
}

// JSONObject is a metadata object stored as JSON text. A nil map is NULL.
type JSONObject map[string]any

// Value implements driver.Valuer.
func (o JSONObject) Value() (driver.Value, error) {
	if o == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(o))
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (o *JSONObject) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*o = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported metadata column type %T", src)
	}
	if len(raw) == 0 {
		*o = nil
		return nil
	}

	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	*o = m
	return nil
}
