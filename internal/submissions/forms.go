package submissions

import (
	"strings"

	"vkanalytics/internal/crm"
)

// Endpoint names a submission form. It is also the submissions log tag.
type Endpoint string

const (
	EndpointBookACall     Endpoint = "book-a-call"
	EndpointWebsiteReview Endpoint = "website-review"
	EndpointLead          Endpoint = "lead"
)

// ParseEndpoint maps a route segment to an Endpoint.
func ParseEndpoint(s string) (Endpoint, bool) {
	switch e := Endpoint(s); e {
	case EndpointBookACall, EndpointWebsiteReview, EndpointLead:
		return e, true
	}
	return "", false
}

// Envelope holds the fields every form posts next to its own.
type Envelope struct {
	Honeypot         any                `json:"_hp"`
	IdempotencyKey   string             `json:"idempotency_key"`
	FormID           string             `json:"form_id"`
	TriggerButtonID  string             `json:"trigger_button_id"`
	ModalTriggerType string             `json:"modal_trigger_type"`
	Context          crm.SessionContext `json:"_context"`
}

// HoneypotFilled reports whether the hidden _hp field carries anything.
func (e Envelope) HoneypotFilled() bool {
	switch v := e.Honeypot.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	default:
		return true
	}
}

// BookACall is the book-a-call form.
type BookACall struct {
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required,formemail"`
	Website     string `json:"website" validate:"omitempty,max=2048,url"`
	LinkedInURL string `json:"linkedin_url" validate:"omitempty,max=2048,url"`
	Message     string `json:"message" validate:"max=5000"`
	Phone       string `json:"phone"`
	Company     string `json:"company"`
}

// Normalize trims every field; name, email and phone are cut to their limits.
// Website, LinkedIn URL and message keep their length so oversize input is rejected.
func (f *BookACall) Normalize() {
	f.Name = clip(f.Name, MaxName)
	f.Email = clip(f.Email, MaxEmail)
	f.Website = strings.TrimSpace(f.Website)
	f.LinkedInURL = strings.TrimSpace(f.LinkedInURL)
	f.Message = strings.TrimSpace(f.Message)
	f.Phone = clip(f.Phone, MaxPhone)
	f.Company = clip(f.Company, MaxName)
}

// WebsiteReview is the website-review request form.
type WebsiteReview struct {
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"omitempty,formemail"`
	Website     string `json:"website" validate:"omitempty,max=2048,url"`
	LinkedInURL string `json:"linkedin_url" validate:"omitempty,max=2048,url"`
	Comments    string `json:"comments" validate:"max=3000"`
	Company     string `json:"company"`
}

func (f *WebsiteReview) Normalize() {
	f.Name = clip(f.Name, MaxName)
	f.Email = clip(f.Email, MaxEmail)
	f.Website = strings.TrimSpace(f.Website)
	f.LinkedInURL = strings.TrimSpace(f.LinkedInURL)
	f.Comments = strings.TrimSpace(f.Comments)
	f.Company = clip(f.Company, MaxName)
}

// Lead is a lead-magnet signup.
type Lead struct {
	Name         string `json:"name" validate:"required"`
	Email        string `json:"email" validate:"required,formemail"`
	Source       string `json:"source" validate:"oneof=lead-50things lead-offboarding lead-socialproof"`
	MailchimpTag string `json:"mailchimp_tag"`
}

func (f *Lead) Normalize() {
	f.Name = clip(f.Name, MaxName)
	f.Email = clip(f.Email, MaxEmail)
	f.Source = strings.TrimSpace(f.Source)
	f.MailchimpTag = strings.TrimSpace(f.MailchimpTag)
}

// Tag is the Mailchimp tag applied to the signup; defaults to the source.
func (f Lead) Tag() string {
	if f.MailchimpTag != "" {
		return f.MailchimpTag
	}
	return f.Source
}

var leadMessages = map[string]string{
	"lead-50things":    "Thanks! Check your email for the checklist.",
	"lead-offboarding": "Thanks! Check your email for the offboarding guide.",
	"lead-socialproof": "Thanks! Check your email to get started with the course.",
}

const (
	MessageInvalidRequest = "Invalid request."
	MessageBookACall      = "Thanks — we'll be in touch soon."
	MessageWebsiteReview  = "Thanks — we'll be in touch with your review soon."
	MessageLeadDefault    = "Thanks! Check your email."
)

// LeadMessage is the confirmation shown for a lead-magnet source.
func LeadMessage(source string) string {
	if m, ok := leadMessages[source]; ok {
		return m
	}
	return MessageLeadDefault
}
