package v1

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/crm"
	"vkanalytics/internal/submissions"
)

// bookingConfirmed is the payload posted by the scheduling tool once a call
// is booked.
type bookingConfirmed struct {
	SubmissionType string `json:"submission_type"`
	SubmittedAt    any    `json:"submitted_at"`
	FullName       string `json:"full_name"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	CompanyName    string `json:"company_name"`
	Company        string `json:"company"`
	Website        string `json:"website"`
	LinkedInURL    string `json:"linkedin_url"`
	Phone          string `json:"phone"`
	Notes          string `json:"notes"`
	Event          string `json:"event"`
	StartTime      any    `json:"start_time"`
	Timezone       string `json:"timezone"`
	MeetingLink    string `json:"meeting_link"`
	BookingID      string `json:"booking_id"`

	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`
}

type bookingCheck struct {
	SubmissionType string `validate:"eq=call_booking"`
	SubmittedAt    string `validate:"required"`
	FullName       string `validate:"required_without_all=Website LinkedInURL"`
	Website        string
	LinkedInURL    string
}

var bookingMessages = map[string]string{
	"SubmissionType": `submission_type must be "call_booking"`,
	"SubmittedAt":    "submitted_at (ISO datetime) is required",
	"FullName":       "At least one of full_name, website, or linkedin_url is required",
}

// BookingConfirmedAction records a confirmed call booking in the CRM. The
// caller gets {ok:true} even when the CRM write fails.
func (h *Handlers) BookingConfirmedAction(ctx *cartridge.Context) error {
	secret := h.deps.Config.BookingWebhookSecret
	if secret != "" && !secretMatches(secret, bearerToken(ctx.Ctx)) && !secretMatches(secret, ctx.Get("X-Webhook-Secret")) {
		return errorJSON(ctx.Ctx, http.StatusUnauthorized, errUnauthorized)
	}

	var body bookingConfirmed
	if raw := ctx.Body(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return errorJSON(ctx.Ctx, http.StatusBadRequest, "Invalid JSON body")
		}
	}

	lead, err := body.lead()
	if err != nil {
		return errorJSON(ctx.Ctx, http.StatusBadRequest, err.Error())
	}

	sc := crm.SessionContext{
		UTMSource:   body.UTMSource,
		UTMMedium:   body.UTMMedium,
		UTMCampaign: body.UTMCampaign,
		UTMTerm:     body.UTMTerm,
		UTMContent:  body.UTMContent,
	}
	result, err := h.deps.CRM.Upsert(ctx.UserContext(), lead, sc)
	switch {
	case errors.Is(err, crm.ErrNotConfigured):
		ctx.Logger.Debug("Booking received without a CRM configured")
	case err != nil:
		ctx.Logger.Error("Failed to record booking in CRM", slog.Any("error", err))
	default:
		ctx.Logger.Info("Booking recorded in CRM",
			slog.String("page_id", result.PageID),
			slog.Bool("created", result.Created),
			slog.String("matched_by", string(result.MatchedBy)))
	}
	return ctx.JSON(fiber.Map{"ok": true})
}

// lead validates the payload and converts it to a CRM lead.
func (b bookingConfirmed) lead() (crm.Lead, error) {
	submittedAt, _ := b.SubmittedAt.(string)
	check := bookingCheck{
		SubmissionType: b.SubmissionType,
		SubmittedAt:    strings.TrimSpace(submittedAt),
		FullName:       firstNonEmpty(b.FullName, b.Name),
		Website:        strings.TrimSpace(b.Website),
		LinkedInURL:    strings.TrimSpace(b.LinkedInURL),
	}
	if err := submissions.Validator().Struct(check); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return crm.Lead{}, errors.New(bookingMessages[verrs[0].Field()])
		}
		return crm.Lead{}, err
	}

	at, err := parseISOTime(check.SubmittedAt)
	if err != nil {
		return crm.Lead{}, errors.New(bookingMessages["SubmittedAt"])
	}

	lead := crm.Lead{
		Type:        crm.SubmissionCallBooking,
		SubmittedAt: at,
		Name:        check.FullName,
		Email:       strings.TrimSpace(b.Email),
		Company:     firstNonEmpty(b.CompanyName, b.Company),
		Website:     check.Website,
		LinkedInURL: check.LinkedInURL,
		Event:       strings.TrimSpace(b.Event),
		Timezone:    strings.TrimSpace(b.Timezone),
		MeetingLink: strings.TrimSpace(b.MeetingLink),
		BookingID:   strings.TrimSpace(b.BookingID),
		Fields:      map[string]string{},
	}
	if b.StartTime != nil {
		lead.StartTime = fmt.Sprint(b.StartTime)
	}
	if phone := strings.TrimSpace(b.Phone); phone != "" {
		lead.Fields["phone"] = phone
	}
	if notes := strings.TrimSpace(b.Notes); notes != "" {
		lead.Fields["notes"] = notes
	}
	return lead, nil
}

func parseISOTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
