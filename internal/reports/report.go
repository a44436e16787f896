// Package reports computes conversion, engagement and bounce metrics over a
// period, optionally broken down by first-touch attribution.
package reports

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// GroupBy selects the attribution breakdown of a report.
type GroupBy string

const (
	GroupNone     GroupBy = "none"
	GroupReferrer GroupBy = "referrer"
	GroupUTM      GroupBy = "utm"
)

// ParseGroupBy accepts "", "none", "referrer" and "utm".
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupNone:
		return GroupNone, nil
	case GroupReferrer:
		return GroupReferrer, nil
	case GroupUTM:
		return GroupUTM, nil
	}
	return "", fmt.Errorf("invalid group %q: use none, referrer or utm", s)
}

// ErrNotConfigured is the report error when no store is available.
const ErrNotConfigured = "Analytics DB not configured"

const periodLayout = "2006-01-02 15:04:05"

// Period is the half-open [Start, End) window of a report.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"start": p.Start.UTC().Format(periodLayout),
		"end":   p.End.UTC().Format(periodLayout),
	})
}

// Dimensions identify a breakdown row. Only the fields of the active
// grouping are set.
type Dimensions struct {
	Referrer    *string `json:"referrer,omitempty"`
	UTMSource   *string `json:"utm_source,omitempty"`
	UTMMedium   *string `json:"utm_medium,omitempty"`
	UTMCampaign *string `json:"utm_campaign,omitempty"`
}

// Key renders the dimensions for text output.
func (d Dimensions) Key() string {
	var parts []string
	for _, p := range []*string{d.Referrer, d.UTMSource, d.UTMMedium, d.UTMCampaign} {
		if p == nil {
			continue
		}
		if *p == "" {
			parts = append(parts, "-")
			continue
		}
		parts = append(parts, *p)
	}
	return strings.Join(parts, " / ")
}

type OverallCVR struct {
	Dimensions
	TotalVisitors int64   `json:"total_visitors"`
	Conversions   int64   `json:"conversions"`
	CVRPct        float64 `json:"cvr_pct"`
}

type LeadMagnetCVR struct {
	Dimensions
	LMConversions int64   `json:"lm_conversions"`
	Visitors      int64   `json:"visitors"`
	LMCVRPct      float64 `json:"lm_cvr_pct"`
}

type WebsiteReviewCVR struct {
	Dimensions
	WRVConversions int64   `json:"wrv_conversions"`
	Visitors       int64   `json:"visitors"`
	WRVCVRPct      float64 `json:"wrv_cvr_pct"`
}

type ContactCVR struct {
	Dimensions
	ContactConversions int64   `json:"contact_conversions"`
	Visitors           int64   `json:"visitors"`
	ContactCVRPct      float64 `json:"contact_cvr_pct"`
}

type VideoViews struct {
	Dimensions
	VideoEvents   int64 `json:"video_events"`
	UniqueViewers int64 `json:"unique_viewers"`
}

type TimeOnSite struct {
	Dimensions
	AvgSeconds       float64 `json:"avg_seconds"`
	VisitorsWithTime int64   `json:"visitors_with_time"`
}

type BounceRate struct {
	Dimensions
	TotalVisitors int64   `json:"total_visitors"`
	Bounces       int64   `json:"bounces"`
	BounceRatePct float64 `json:"bounce_rate_pct"`
}

// Result is a metric as a single total or, when grouped, as breakdown rows.
type Result[T any] struct {
	Grouped bool
	Total   T
	Rows    []T
}

func (r Result[T]) MarshalJSON() ([]byte, error) {
	if !r.Grouped {
		return json.Marshal(r.Total)
	}
	if r.Rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Rows)
}

// Len is the number of breakdown rows, or 1 for a total.
func (r Result[T]) Len() int {
	if !r.Grouped {
		return 1
	}
	return len(r.Rows)
}

type Metrics struct {
	OverallCVR Result[OverallCVR]       `json:"overall_cvr"`
	LMCVR      Result[LeadMagnetCVR]    `json:"lm_cvr"`
	WRVCVR     Result[WebsiteReviewCVR] `json:"wrv_cvr"`
	ContactCVR Result[ContactCVR]       `json:"contact_cvr"`
	VideoViews Result[VideoViews]       `json:"video_views"`
	TimeOnSite Result[TimeOnSite]       `json:"time_on_site"`
	BounceRate Result[BounceRate]       `json:"bounce_rate"`
}

// Report is the output of Engine.Run. Error is set, and the other fields
// are empty, when the store is not configured.
type Report struct {
	Error   string
	Period  Period
	GroupBy GroupBy
	Metrics Metrics
}

func (r Report) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(map[string]any{
			"error":   r.Error,
			"metrics": map[string]any{},
		})
	}
	return json.Marshal(struct {
		Period  Period  `json:"period"`
		GroupBy GroupBy `json:"groupBy"`
		Metrics Metrics `json:"metrics"`
	}{r.Period, r.GroupBy, r.Metrics})
}

// Pct is 100*n/d rounded to two decimals, or 0 when d is 0.
func Pct(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(100*float64(n)/float64(d)*100) / 100
}
