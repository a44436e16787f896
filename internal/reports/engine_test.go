package reports_test

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"vkanalytics/internal/events"
	"vkanalytics/internal/reports"
	"vkanalytics/internal/testsupport"
)

var (
	windowStart = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
)

func day(d, hour int) time.Time {
	return time.Date(2026, 5, d, hour, 0, 0, 0, time.UTC)
}

// seed builds a small month of traffic:
//
//	v-one      one click                               bounce
//	v-29       click + 29s on site                     bounce
//	v-31       utm a/cpc, email, 31s, videos, call     engaged, contact conversion
//	v-lead     email, lead form + video_ended          bounce (no time on site), LM conversion
//	v-outside  click in window, review form after it   bounce, no WRV conversion
//	v-old      first seen before the window            excluded from visitor counts
//	v-late     first seen after the window             excluded
func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	testsupport.CreateVisitor(t, db, testsupport.VisitorFixture{ID: "v-one", FirstSeenAt: day(10, 10), Referrer: "https://google.com/"})
	testsupport.CreateVisitor(t, db, testsupport.VisitorFixture{ID: "v-29", FirstSeenAt: day(11, 10)})
	testsupport.CreateVisitor(t, db, testsupport.VisitorFixture{ID: "v-31", FirstSeenAt: day(12, 10), Email: "ann@example.com", UTMSource: "a", UTMMedium: "cpc"})
	testsupport.CreateVisitor(t, db, testsupport.VisitorFixture{ID: "v-lead", FirstSeenAt: day(13, 10), Email: "lee@example.com"})
	testsupport.CreateVisitor(t, db, testsupport.VisitorFixture{ID: "v-outside", FirstSeenAt: day(20, 10)})
	testsupport.CreateVisitor(t, db, testsupport.VisitorFixture{ID: "v-old", FirstSeenAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})
	testsupport.CreateVisitor(t, db, testsupport.VisitorFixture{ID: "v-late", FirstSeenAt: time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC)})

	testsupport.CreateEvent(t, db, "v-one", events.TypeClick, day(10, 10), nil)

	testsupport.CreateEvent(t, db, "v-29", events.TypeClick, day(11, 10), nil)
	testsupport.CreateEvent(t, db, "v-29", events.TypeTimeOnSite, day(11, 11), map[string]any{"seconds": 29})

	testsupport.CreateEvent(t, db, "v-31", events.TypeClick, day(12, 10), nil)
	testsupport.CreateEvent(t, db, "v-31", events.TypeTimeOnSite, day(12, 11), map[string]any{"seconds": 10})
	testsupport.CreateEvent(t, db, "v-31", events.TypeTimeOnSite, day(12, 12), map[string]any{"seconds": 31})
	testsupport.CreateEvent(t, db, "v-31", events.TypeVideoPlay, day(12, 13), map[string]any{"name": "intro"})
	testsupport.CreateEvent(t, db, "v-31", events.TypeVideoPlay, day(12, 14), map[string]any{"name": "intro"})
	testsupport.CreateEvent(t, db, "v-31", events.TypeVideoPause, day(12, 15), nil)
	testsupport.CreateEvent(t, db, "v-31", events.TypeFormSubmit, day(12, 16), map[string]any{"form_id": events.FormBookCall})

	testsupport.CreateEvent(t, db, "v-lead", events.TypeFormSubmit, day(13, 10), map[string]any{"form_id": "form-lead-50things"})
	testsupport.CreateEvent(t, db, "v-lead", events.TypeVideoEnded, day(13, 11), nil)

	testsupport.CreateEvent(t, db, "v-outside", events.TypeClick, day(20, 10), nil)
	testsupport.CreateEvent(t, db, "v-outside", events.TypeFormSubmit, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), map[string]any{"form_id": events.FormWebsiteReview})

	testsupport.CreateEvent(t, db, "v-old", events.TypeClick, day(15, 10), nil)
}

func TestRunReportTotals(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	seed(t, dbManager.GetConnection())

	report, err := reports.NewEngine(dbManager, logger).Run(context.Background(), windowStart, windowEnd, reports.GroupNone)
	require.NoError(t, err)
	m := report.Metrics

	assert.Equal(t, reports.OverallCVR{TotalVisitors: 5, Conversions: 2, CVRPct: 40}, m.OverallCVR.Total)
	assert.Equal(t, reports.LeadMagnetCVR{LMConversions: 1, Visitors: 5, LMCVRPct: 20}, m.LMCVR.Total)
	assert.Equal(t, reports.WebsiteReviewCVR{WRVConversions: 0, Visitors: 5, WRVCVRPct: 0}, m.WRVCVR.Total)
	assert.Equal(t, reports.ContactCVR{ContactConversions: 1, Visitors: 5, ContactCVRPct: 20}, m.ContactCVR.Total)
	assert.Equal(t, reports.VideoViews{VideoEvents: 3, UniqueViewers: 2}, m.VideoViews.Total)
	assert.Equal(t, reports.TimeOnSite{AvgSeconds: 30, VisitorsWithTime: 2}, m.TimeOnSite.Total)
	assert.Equal(t, reports.BounceRate{TotalVisitors: 5, Bounces: 4, BounceRatePct: 80}, m.BounceRate.Total)
}

func TestRunReportEmptyPeriod(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)

	report, err := reports.NewEngine(dbManager, logger).Run(context.Background(), windowStart, windowEnd, reports.GroupNone)
	require.NoError(t, err)

	b, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded struct {
		Period  map[string]string         `json:"period"`
		GroupBy string                    `json:"groupBy"`
		Metrics map[string]map[string]any `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "2026-05-01 00:00:00", decoded.Period["start"])
	assert.Equal(t, "none", decoded.GroupBy)
	assert.Equal(t, map[string]any{"total_visitors": 0.0, "conversions": 0.0, "cvr_pct": 0.0}, decoded.Metrics["overall_cvr"])
	assert.Equal(t, map[string]any{"avg_seconds": 0.0, "visitors_with_time": 0.0}, decoded.Metrics["time_on_site"])
	assert.Equal(t, map[string]any{"total_visitors": 0.0, "bounces": 0.0, "bounce_rate_pct": 0.0}, decoded.Metrics["bounce_rate"])
}

func TestRunReportGroupedByUTM(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	seed(t, db)
	// later events with other campaigns never move v-31 out of its first-touch group
	testsupport.CreateEvent(t, db, "v-31", events.TypeClick, day(25, 10), nil)
	require.NoError(t, db.Exec("UPDATE events SET utm_source = 'b' WHERE visitor_id = 'v-31'").Error)

	report, err := reports.NewEngine(dbManager, logger).Run(context.Background(), windowStart, windowEnd, reports.GroupUTM)
	require.NoError(t, err)

	rows := report.Metrics.OverallCVR.Rows
	require.Len(t, rows, 2)
	assert.Equal(t, "", *rows[0].UTMSource)
	assert.EqualValues(t, 4, rows[0].TotalVisitors)
	assert.Equal(t, "a", *rows[1].UTMSource)
	assert.Equal(t, "cpc", *rows[1].UTMMedium)
	assert.Equal(t, "", *rows[1].UTMCampaign)
	assert.EqualValues(t, 1, rows[1].TotalVisitors)
	assert.EqualValues(t, 1, rows[1].Conversions)
	assert.Equal(t, 100.0, rows[1].CVRPct)
	assert.Nil(t, rows[1].Referrer)

	contact := report.Metrics.ContactCVR.Rows
	require.Len(t, contact, 2)
	assert.EqualValues(t, 1, contact[1].ContactConversions)

	b, err := json.Marshal(report.Metrics.OverallCVR)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"utm_source":"","utm_medium":"","utm_campaign":"","total_visitors":4,"conversions":1,"cvr_pct":25},
		{"utm_source":"a","utm_medium":"cpc","utm_campaign":"","total_visitors":1,"conversions":1,"cvr_pct":100}
	]`, string(b))
}

func TestRunReportGroupedByReferrer(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	seed(t, dbManager.GetConnection())

	report, err := reports.NewEngine(dbManager, logger).Run(context.Background(), windowStart, windowEnd, reports.GroupReferrer)
	require.NoError(t, err)

	rows := report.Metrics.BounceRate.Rows
	require.Len(t, rows, 2)
	assert.Equal(t, "(direct)", *rows[0].Referrer)
	assert.Equal(t, reports.BounceRate{Dimensions: rows[0].Dimensions, TotalVisitors: 4, Bounces: 3, BounceRatePct: 75}, rows[0])
	assert.Equal(t, "https://google.com/", *rows[1].Referrer)
	assert.EqualValues(t, 1, rows[1].Bounces)
}

func TestRunReportNotConfigured(t *testing.T) {
	report, err := reports.NewEngine(nil, testsupport.GetLogger()).Run(context.Background(), windowStart, windowEnd, reports.GroupNone)
	require.NoError(t, err)

	b, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Analytics DB not configured","metrics":{}}`, string(b))
}

func TestPct(t *testing.T) {
	assert.Equal(t, 0.0, reports.Pct(3, 0))
	assert.Equal(t, 33.33, reports.Pct(1, 3))
	assert.Equal(t, 66.67, reports.Pct(2, 3))
	assert.Equal(t, 100.0, reports.Pct(7, 7))
}
