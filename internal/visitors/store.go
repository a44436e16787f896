package visitors

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrVisitorNotFound  = errors.New("visitor not found")
	ErrNoIdentityFields = errors.New("provide email and/or name")
	ErrInvalidVisitorID = errors.New("missing visitor_id")
)

// UpsertParams describes the visitor touched by one ingestion batch.
type UpsertParams struct {
	VisitorID   string
	SeenAt      time.Time
	Attribution Attribution
	Context     Context
}

const upsertWithDisplaySQL = `
INSERT INTO visitors (visitor_id, first_seen_at, last_seen_at, referrer, utm_source, utm_medium,
	utm_campaign, utm_term, utm_content, device_display, browser_display, location_display)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(visitor_id) DO UPDATE SET
	last_seen_at = CASE WHEN excluded.last_seen_at > visitors.last_seen_at
		THEN excluded.last_seen_at ELSE visitors.last_seen_at END,
	device_display = COALESCE(excluded.device_display, visitors.device_display),
	browser_display = COALESCE(excluded.browser_display, visitors.browser_display),
	location_display = COALESCE(excluded.location_display, visitors.location_display)`

const upsertSQL = `
INSERT INTO visitors (visitor_id, first_seen_at, last_seen_at, referrer, utm_source, utm_medium,
	utm_campaign, utm_term, utm_content)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(visitor_id) DO UPDATE SET
	last_seen_at = CASE WHEN excluded.last_seen_at > visitors.last_seen_at
		THEN excluded.last_seen_at ELSE visitors.last_seen_at END`

// Upsert inserts the visitor with its first-touch attribution, or refreshes
// last_seen_at when it already exists. Display columns are only written when
// withDisplay is set and never replaced by an empty value.
func Upsert(tx *gorm.DB, p UpsertParams, withDisplay bool) error {
	seen := p.SeenAt.UTC().Truncate(time.Second)
	a := p.Attribution
	args := []any{
		truncate(p.VisitorID, MaxIDLength), seen, seen,
		a.Referrer, a.UTMSource, a.UTMMedium, a.UTMCampaign, a.UTMTerm, a.UTMContent,
	}

	query := upsertSQL
	if withDisplay {
		query = upsertWithDisplaySQL
		args = append(args,
			nullable(p.Context.DeviceDisplay, MaxDisplayLength),
			nullable(p.Context.BrowserDisplay, MaxDisplayLength),
			nullable(p.Context.LocationDisplay, MaxDisplayLength),
		)
	}

	if err := tx.Exec(query, args...).Error; err != nil {
		return fmt.Errorf("failed to upsert visitor: %w", err)
	}
	return nil
}

// Identity is the email/name pair attached by the enrichment hook.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Normalize trims both fields and cuts them to the column size.
func (i Identity) Normalize() Identity {
	return Identity{
		Email: truncate(strings.TrimSpace(i.Email), MaxIdentityLength),
		Name:  truncate(strings.TrimSpace(i.Name), MaxIdentityLength),
	}
}

// Empty reports whether neither field carries a value.
func (i Identity) Empty() bool {
	n := i.Normalize()
	return n.Email == "" && n.Name == ""
}

// Enrich attaches the identity to the visitor and stamps enriched_at. A field
// left empty keeps its stored value. Unknown visitor ids update nothing.
func Enrich(db *gorm.DB, visitorID string, identity Identity, now time.Time) error {
	id := identity.Normalize()
	if id.Email == "" && id.Name == "" {
		return ErrNoIdentityFields
	}

	err := db.Exec(
		`UPDATE visitors SET email = COALESCE(?, email), name = COALESCE(?, name), enriched_at = ?
		WHERE visitor_id = ?`,
		nullable(id.Email, MaxIdentityLength),
		nullable(id.Name, MaxIdentityLength),
		now.UTC().Truncate(time.Second),
		truncate(visitorID, MaxIDLength),
	).Error
	if err != nil {
		return fmt.Errorf("failed to enrich visitor: %w", err)
	}
	return nil
}

// ReturnState is what the return-visit notifier needs to decide.
type ReturnState struct {
	Email                 string
	Name                  string
	ReturnVisitNotifiedAt *time.Time
}

// ReturnVisitState loads the identity and last alert stamp of a visitor.
func ReturnVisitState(db *gorm.DB, visitorID string) (ReturnState, error) {
	var v Visitor
	err := db.Select("visitor_id", "email", "name", "return_visit_notified_at").
		Where("visitor_id = ?", visitorID).
		Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReturnState{}, ErrVisitorNotFound
	}
	if err != nil {
		return ReturnState{}, fmt.Errorf("failed to load visitor %s: %w", visitorID, err)
	}

	return ReturnState{
		Email:                 deref(v.Email),
		Name:                  deref(v.Name),
		ReturnVisitNotifiedAt: v.ReturnVisitNotifiedAt,
	}, nil
}

// StampReturnVisit records that a return-visit alert went out at the given time.
func StampReturnVisit(db *gorm.DB, visitorID string, at time.Time) error {
	err := db.Exec("UPDATE visitors SET return_visit_notified_at = ? WHERE visitor_id = ?",
		at.UTC().Truncate(time.Second), visitorID).Error
	if err != nil {
		return fmt.Errorf("failed to stamp return visit: %w", err)
	}
	return nil
}

// Get loads a visitor by id.
func Get(db *gorm.DB, visitorID string) (*Visitor, error) {
	var v Visitor
	err := db.Where("visitor_id = ?", visitorID).Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVisitorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load visitor %s: %w", visitorID, err)
	}
	return &v, nil
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
