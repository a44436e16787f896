package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotConfigured is returned when no CRM store is wired.
	ErrNotConfigured = errors.New("CRM not configured")
	ErrPageNotFound  = errors.New("CRM page not found")
)

const (
	StatusWRVRequested    = "WRV Requested"
	StatusIncomingEnquiry = "Incoming Web Enquiry"
	LeadSourceWebsite     = "website"
)

// Notion property names of the CRM database.
const (
	PropertyWebsiteURL    = "Website URL"
	PropertyLinkedInURL   = "LinkedIn URL"
	PropertyTitle         = "WRV"
	PropertyRequestedDate = "WRV requested"
	PropertyLeadSource    = "Lead source"
	PropertyStatus        = "Status"
	PropertyGeneralNotes  = "General notes"
)

// Record is the set of row properties written for a lead.
type Record struct {
	Title       string
	WebsiteURL  string
	LinkedInURL string
	Status      string
	LeadSource  string
	RequestedAt time.Time
	// Notes is split into body blocks; on update it is appended after a divider.
	Notes []string
}

// Store is a CRM table keyed by page id.
type Store interface {
	FindByURL(ctx context.Context, property, url string) (string, bool, error)
	FindByTitle(ctx context.Context, title string) (string, bool, error)
	Create(ctx context.Context, rec Record) (string, error)
	Update(ctx context.Context, pageID string, rec Record) error
}

// Result describes what Upsert did.
type Result struct {
	PageID    string    `json:"page_id"`
	Created   bool      `json:"created"`
	MatchedBy MatchedBy `json:"matched_by,omitempty"`
}

// Resolver de-duplicates leads against a Store.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver returns a resolver over store. A nil store makes every Upsert
// fail with ErrNotConfigured.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Configured reports whether a store is wired.
func (r *Resolver) Configured() bool {
	return r != nil && r.store != nil
}

// Upsert finds the lead's existing row by website URL, then LinkedIn URL,
// then title, and updates it; with no match it creates a new row.
func (r *Resolver) Upsert(ctx context.Context, lead Lead, sc SessionContext) (Result, error) {
	if !r.Configured() {
		return Result{}, ErrNotConfigured
	}
	if lead.SubmittedAt.IsZero() {
		lead.SubmittedAt = time.Now().UTC()
	}
	if lead.Type != SubmissionCallBooking {
		lead.Type = SubmissionWRVRequest
	}

	website := NormalizeURL(lead.Website)
	linkedIn := NormalizeURL(lead.LinkedInURL)
	title := Title(lead, lead.SubmittedAt)

	pageID, match, err := r.find(ctx, website, linkedIn, title)
	if err != nil {
		return Result{}, fmt.Errorf("crm lookup: %w", err)
	}

	status := StatusWRVRequested
	if lead.Type == SubmissionCallBooking {
		status = StatusIncomingEnquiry
	}
	rec := Record{
		Title:       title,
		WebsiteURL:  website,
		LinkedInURL: linkedIn,
		Status:      status,
		LeadSource:  LeadSourceWebsite,
		RequestedAt: lead.SubmittedAt,
		Notes:       SplitNotes(BuildNotes(lead, sc, match), MaxTextLength),
	}

	if pageID != "" {
		if err := r.store.Update(ctx, pageID, rec); err != nil {
			return Result{}, fmt.Errorf("crm update %s: %w", pageID, err)
		}
		r.logger.Info("CRM row updated", slog.String("page_id", pageID), slog.String("matched_by", string(match)))
		return Result{PageID: pageID, MatchedBy: match}, nil
	}

	pageID, err = r.store.Create(ctx, rec)
	if err != nil {
		return Result{}, fmt.Errorf("crm create: %w", err)
	}
	r.logger.Info("CRM row created", slog.String("page_id", pageID), slog.String("title", title))
	return Result{PageID: pageID, Created: true}, nil
}

func (r *Resolver) find(ctx context.Context, website, linkedIn, title string) (string, MatchedBy, error) {
	if website != "" {
		id, ok, err := r.store.FindByURL(ctx, PropertyWebsiteURL, website)
		if err != nil || ok {
			return id, MatchWebsiteURL, err
		}
	}
	if linkedIn != "" {
		id, ok, err := r.store.FindByURL(ctx, PropertyLinkedInURL, linkedIn)
		if err != nil || ok {
			return id, MatchLinkedInURL, err
		}
	}
	if title != "" {
		id, ok, err := r.store.FindByTitle(ctx, title)
		if err != nil || ok {
			return id, MatchTitle, err
		}
	}
	return "", MatchNone, nil
}
