package crm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// SubmissionType distinguishes the two CRM-bound forms.
type SubmissionType string

const (
	SubmissionWRVRequest  SubmissionType = "wrv_request"
	SubmissionCallBooking SubmissionType = "call_booking"
)

// Lead is an inbound enquiry headed for the CRM.
type Lead struct {
	Type        SubmissionType
	SubmittedAt time.Time

	Name        string
	Email       string
	Company     string
	Website     string
	LinkedInURL string

	FormID           string
	TriggerButtonID  string
	ModalTriggerType string

	// Booking details, call_booking only.
	Event       string
	StartTime   string
	Timezone    string
	MeetingLink string
	BookingID   string

	// Fields holds the remaining non-empty form fields.
	Fields map[string]string
}

// Timestamp accepts epoch milliseconds or an RFC 3339 string.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if ms, err := strconv.ParseFloat(string(b), 64); err == nil {
		t.Time = time.UnixMilli(int64(ms)).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

type ButtonClick struct {
	ID    string     `json:"id"`
	Modal string     `json:"modal"`
	TS    *Timestamp `json:"ts"`
}

type VideoEvent struct {
	Type string     `json:"type"`
	Pct  *float64   `json:"pct"`
	TS   *Timestamp `json:"ts"`
}

type VideoWatch struct {
	Name        string       `json:"name"`
	Src         string       `json:"src"`
	MaxPct      *float64     `json:"max_pct"`
	ProgressPct *float64     `json:"progress_pct"`
	Events      []VideoEvent `json:"events"`
}

func (v VideoWatch) label() string {
	return firstNonEmpty(v.Name, v.Src, "—")
}

func (v VideoWatch) maxPct() *float64 {
	if v.MaxPct != nil {
		return v.MaxPct
	}
	return v.ProgressPct
}

// SessionContext is the browsing summary the site attaches to form posts as _context.
type SessionContext struct {
	VisitorID string `json:"visitor_id"`

	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`

	FirstVisitTS  *Timestamp        `json:"first_visit_ts"`
	FirstReferrer string            `json:"first_referrer"`
	FirstVisitUTM map[string]string `json:"first_visit_utm"`

	ButtonsClicked []ButtonClick `json:"buttons_clicked"`
	VideosWatched  []VideoWatch  `json:"videos_watched"`

	FormID           string `json:"form_id"`
	TriggerButtonID  string `json:"trigger_button_id"`
	ModalTriggerType string `json:"modal_trigger_type"`
}

// MatchedBy records which lookup found an existing CRM row.
type MatchedBy string

const (
	MatchNone        MatchedBy = ""
	MatchWebsiteURL  MatchedBy = "website_url"
	MatchLinkedInURL MatchedBy = "linkedin_url"
	MatchTitle       MatchedBy = "wrv_title"
)

func (m MatchedBy) label() string {
	switch m {
	case MatchWebsiteURL:
		return "Website URL"
	case MatchLinkedInURL:
		return "LinkedIn URL"
	default:
		return "WRV (name)"
	}
}

type timelineEntry struct {
	at   time.Time
	line string
}

func formatTS(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatPct(p *float64) string {
	if p == nil {
		return "—"
	}
	return strconv.FormatFloat(*p, 'f', -1, 64) + "%"
}

// Timeline orders what the visitor did before submitting, ending with the submission.
func Timeline(lead Lead, sc SessionContext) []string {
	var entries []timelineEntry

	if sc.FirstVisitTS != nil {
		ref := firstNonEmpty(sc.FirstReferrer, "direct")
		entries = append(entries, timelineEntry{sc.FirstVisitTS.Time, fmt.Sprintf("First visit to website (from: %s)", ref)})
	}

	for _, b := range sc.ButtonsClicked {
		if b.TS == nil {
			continue
		}
		entries = append(entries, timelineEntry{b.TS.Time, fmt.Sprintf("Clicked %s (opened %s)", firstNonEmpty(b.ID, "—"), firstNonEmpty(b.Modal, "—"))})
	}

	for _, v := range sc.VideosWatched {
		name := v.label()
		for _, ev := range v.Events {
			if ev.TS == nil {
				continue
			}
			switch ev.Type {
			case "start":
				entries = append(entries, timelineEntry{ev.TS.Time, "Started " + name})
			case "pause":
				entries = append(entries, timelineEntry{ev.TS.Time, fmt.Sprintf("Paused %s at %s", name, formatPct(ev.Pct))})
			case "ended":
				entries = append(entries, timelineEntry{ev.TS.Time, fmt.Sprintf("Finished %s (%s)", name, formatPct(ev.Pct))})
			}
		}
		if len(v.Events) == 0 && v.maxPct() != nil {
			entries = append(entries, timelineEntry{lead.SubmittedAt, fmt.Sprintf("Watched %s: %s", name, formatPct(v.maxPct()))})
		}
	}

	label := "WRV requested"
	if lead.Type == SubmissionCallBooking {
		label = "Book a call form submitted"
	}
	entries = append(entries, timelineEntry{lead.SubmittedAt, label})

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("[%s] %s", formatTS(e.at), e.line)
	}
	return lines
}

// BuildNotes renders the page body written for a lead. match is MatchNone
// for new rows.
func BuildNotes(lead Lead, sc SessionContext, match MatchedBy) string {
	var lines []string
	add := func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) }
	orDash := func(s string) string { return firstNonEmpty(strings.TrimSpace(s), "—") }

	if match != MatchNone {
		add("Record: update (matched existing by %s).", match.label())
		add("")
	}

	add("Session timeline:")
	for _, l := range Timeline(lead, sc) {
		add("  %s", l)
	}
	add("")

	add("Source: Website")
	if lead.Type == SubmissionCallBooking {
		add("Submission type: Call booking")
	} else {
		add("Submission type: WRV request")
	}
	add("Submitted at: %s", lead.SubmittedAt.UTC().Format(time.RFC3339))
	add("Form ID: %s", orDash(firstNonEmpty(lead.FormID, sc.FormID)))
	add("Trigger button ID: %s", orDash(firstNonEmpty(lead.TriggerButtonID, sc.TriggerButtonID)))
	add("Modal trigger type: %s", orDash(firstNonEmpty(lead.ModalTriggerType, sc.ModalTriggerType)))

	if len(sc.ButtonsClicked) > 0 {
		var clicked []string
		for _, b := range sc.ButtonsClicked {
			label := firstNonEmpty(b.ID, b.Modal)
			if b.Modal != "" {
				label += " (" + b.Modal + ")"
			}
			if label != "" {
				clicked = append(clicked, label)
			}
		}
		add("Buttons clicked this session: %s", orDash(strings.Join(clicked, ", ")))
	}

	add("Name: %s", orDash(lead.Name))
	add("Email: %s", orDash(lead.Email))
	add("Company: %s", orDash(lead.Company))
	add("Website: %s", orDash(lead.Website))
	add("LinkedIn: %s", orDash(lead.LinkedInURL))

	if utm := nonEmpty(sc.UTMSource, sc.UTMMedium, sc.UTMCampaign, sc.UTMTerm, sc.UTMContent); len(utm) > 0 {
		add("UTM (this page): %s", strings.Join(utm, ", "))
	}
	if sc.FirstVisitUTM != nil {
		u := sc.FirstVisitUTM
		if parts := nonEmpty(u["utm_source"], u["utm_medium"], u["utm_campaign"], u["utm_term"], u["utm_content"]); len(parts) > 0 {
			add("First visit UTM: %s", strings.Join(parts, ", "))
		}
	}

	if len(sc.VideosWatched) > 0 {
		add("Videos watched (play history):")
		for _, v := range sc.VideosWatched {
			add("  %s: max %s", v.label(), formatPct(v.maxPct()))
			for _, ev := range v.Events {
				ts := "—"
				if ev.TS != nil {
					ts = formatTS(ev.TS.Time)
				}
				switch ev.Type {
				case "start":
					add("    start %s", ts)
				case "pause":
					add("    pause at %s %s", formatPct(ev.Pct), ts)
				case "ended":
					add("    finished %s", ts)
				}
			}
		}
	}

	if lead.Type == SubmissionCallBooking {
		for _, kv := range [][2]string{
			{"Event", lead.Event},
			{"Start time", lead.StartTime},
			{"Timezone", lead.Timezone},
			{"Meeting link", lead.MeetingLink},
			{"Booking ID", lead.BookingID},
		} {
			if kv[1] != "" {
				add("%s: %s", kv[0], kv[1])
			}
		}
	}

	add("Form fields:")
	keys := make([]string, 0, len(lead.Fields))
	for k, v := range lead.Fields {
		if strings.HasPrefix(k, "_") || strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add("  %s: %s", k, strings.TrimSpace(lead.Fields[k]))
	}

	return strings.Join(lines, "\n")
}

// SplitNotes cuts text into chunks of at most size runes.
func SplitNotes(text string, size int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= size {
			chunks = append(chunks, text)
			break
		}
		cut := 0
		for i := 0; i < size; i++ {
			_, w := utf8.DecodeRuneInString(text[cut:])
			cut += w
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
