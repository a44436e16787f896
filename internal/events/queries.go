package events

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultRecentLimit = 200
	MaxRecentLimit     = 500
)

// RecentEvent is an event joined with the identity and display fields of
// its visitor, as shown by the event viewer.
type RecentEvent struct {
	Event
	Email           *string `json:"email"`
	Name            *string `json:"name"`
	DeviceDisplay   *string `json:"device_display,omitempty"`
	BrowserDisplay  *string `json:"browser_display,omitempty"`
	LocationDisplay *string `json:"location_display,omitempty"`
	VisitorAlias    string  `gorm:"-" json:"visitor_alias"`
	ReferrerSource  string  `gorm:"-" json:"referrer_source"`
}

// ClampLimit parses a viewer limit parameter. Anything unparseable yields the
// default; parsed values are held to [1, MaxRecentLimit].
func ClampLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultRecentLimit
	}
	if n < 1 {
		return 1
	}
	if n > MaxRecentLimit {
		return MaxRecentLimit
	}
	return n
}

const recentBaseColumns = `e.id, e.visitor_id, e.event_type, e.occurred_at, e.page_url, e.referrer,
	e.utm_source, e.utm_medium, e.utm_campaign, e.utm_term, e.utm_content, e.metadata, e.created_at,
	v.email, v.name`

const recentDisplayColumns = `, v.device_display, v.browser_display, v.location_display`

// Recent returns the newest events first. Display columns are selected only
// when the visitors table has them.
func Recent(db *gorm.DB, limit int, withDisplay bool) ([]RecentEvent, error) {
	if limit < 1 || limit > MaxRecentLimit {
		limit = ClampLimit(strconv.Itoa(limit))
	}

	columns := recentBaseColumns
	if withDisplay {
		columns += recentDisplayColumns
	}

	query := fmt.Sprintf(`SELECT %s
		FROM events e
		LEFT JOIN visitors v ON v.visitor_id = e.visitor_id
		ORDER BY e.occurred_at DESC, e.id DESC
		LIMIT ?`, columns)

	var rows []RecentEvent
	if err := db.Raw(query, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}
	if rows == nil {
		rows = []RecentEvent{}
	}
	return rows, nil
}

// Insert writes all rows of a batch.
func Insert(tx *gorm.DB, rows []Event) error {
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

// DeleteByIDs removes the given events and returns how many rows went away.
func DeleteByIDs(db *gorm.DB, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := db.Where("id IN ?", ids).Delete(&Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes events that occurred before cutoff, batchSize rows
// at a time so the write lock is released between batches.
func DeleteOlderThan(db *gorm.DB, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var total int64
	for {
		result := db.Exec(
			`DELETE FROM events WHERE id IN (SELECT id FROM events WHERE occurred_at < ? LIMIT ?)`,
			cutoff.UTC().Truncate(time.Second), batchSize,
		)
		if result.Error != nil {
			return total, fmt.Errorf("failed to delete old events: %w", result.Error)
		}
		total += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			return total, nil
		}
	}
}
