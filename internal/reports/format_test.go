package reports_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vkanalytics/internal/reports"
)

func TestFormatTextTotals(t *testing.T) {
	r := &reports.Report{
		Period:  reports.Period{Start: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		GroupBy: reports.GroupNone,
	}
	r.Metrics.OverallCVR.Total = reports.OverallCVR{TotalVisitors: 1200, Conversions: 30, CVRPct: 2.5}
	r.Metrics.BounceRate.Total = reports.BounceRate{TotalVisitors: 1200, Bounces: 600, BounceRatePct: 50}

	out := reports.FormatText(r, reports.TextOptions{})
	assert.Contains(t, out, "Period: 2026-05-01 00:00:00 → 2026-06-01 00:00:00")
	assert.Contains(t, out, "Overall CVR:  1,200 visitors, 30 conversions, 2.5%")
	assert.Contains(t, out, "Bounce rate:  600 bounces / 1,200 visitors, 50%")
	assert.NotContains(t, out, "Group by")
}

func TestFormatTextGrouped(t *testing.T) {
	src, medium, campaign := "newsletter", "email", ""
	r := &reports.Report{GroupBy: reports.GroupUTM}
	r.Metrics.OverallCVR = reports.Result[reports.OverallCVR]{Grouped: true, Rows: []reports.OverallCVR{{
		Dimensions:    reports.Dimensions{UTMSource: &src, UTMMedium: &medium, UTMCampaign: &campaign},
		TotalVisitors: 10, Conversions: 1, CVRPct: 10,
	}}}
	r.Metrics.LMCVR = reports.Result[reports.LeadMagnetCVR]{Grouped: true}

	out := reports.FormatText(r, reports.TextOptions{})
	assert.Contains(t, out, "Group by: Utm")
	assert.Contains(t, out, "Overall CVR rows:  1")
	assert.Contains(t, out, "LM CVR rows:       0")
	assert.NotContains(t, out, "newsletter / email / -")

	out = reports.FormatText(r, reports.TextOptions{Tables: true})
	assert.Contains(t, out, "newsletter / email / -")
}

func TestFormatTextNotConfigured(t *testing.T) {
	out := reports.FormatText(&reports.Report{Error: reports.ErrNotConfigured}, reports.TextOptions{})
	assert.Contains(t, out, `"error": "Analytics DB not configured"`)
}
