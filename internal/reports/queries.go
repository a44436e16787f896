package reports

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"vkanalytics/internal/events"
)

// BounceSeconds is the time-on-site below which a visitor counts as bounced.
const BounceSeconds = 30

// metricRow is the common scan target of every metric query.
type metricRow struct {
	Referrer    *string         `gorm:"column:referrer"`
	UTMSource   *string         `gorm:"column:utm_source"`
	UTMMedium   *string         `gorm:"column:utm_medium"`
	UTMCampaign *string         `gorm:"column:utm_campaign"`
	Denominator int64           `gorm:"column:denominator"`
	Numerator   int64           `gorm:"column:numerator"`
	Average     sql.NullFloat64 `gorm:"column:average"`
}

func (r metricRow) dimensions() Dimensions {
	return Dimensions{
		Referrer:    r.Referrer,
		UTMSource:   r.UTMSource,
		UTMMedium:   r.UTMMedium,
		UTMCampaign: r.UTMCampaign,
	}
}

type grouping struct {
	selects string
	groupBy string
	orderBy string
}

func groupingFor(g GroupBy) grouping {
	switch g {
	case GroupReferrer:
		return grouping{
			selects: "COALESCE(v.referrer, '(direct)') AS referrer,",
			groupBy: "GROUP BY COALESCE(v.referrer, '(direct)')",
			orderBy: "ORDER BY denominator DESC, referrer",
		}
	case GroupUTM:
		return grouping{
			selects: "COALESCE(v.utm_source, '') AS utm_source, COALESCE(v.utm_medium, '') AS utm_medium, COALESCE(v.utm_campaign, '') AS utm_campaign,",
			groupBy: "GROUP BY COALESCE(v.utm_source, ''), COALESCE(v.utm_medium, ''), COALESCE(v.utm_campaign, '')",
			orderBy: "ORDER BY denominator DESC, utm_source, utm_medium, utm_campaign",
		}
	}
	return grouping{}
}

// window binds the period bounds in the stored time format.
type window struct {
	start time.Time
	end   time.Time
}

func newWindow(p Period) window {
	return window{start: p.Start.UTC().Truncate(time.Second), end: p.End.UTC().Truncate(time.Second)}
}

type queryFunc func(ctx context.Context, db *gorm.DB, w window, g grouping) ([]metricRow, error)

func scan(ctx context.Context, db *gorm.DB, query string, args ...any) ([]metricRow, error) {
	var rows []metricRow
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Visitors first seen in the window, and those with an email.
func queryOverallCVR(ctx context.Context, db *gorm.DB, w window, g grouping) ([]metricRow, error) {
	q := fmt.Sprintf(`SELECT %s
		COUNT(DISTINCT v.visitor_id) AS denominator,
		COUNT(DISTINCT CASE WHEN v.email IS NOT NULL AND v.email != '' THEN v.visitor_id END) AS numerator
	FROM visitors v
	WHERE v.first_seen_at >= ? AND v.first_seen_at < ?
	%s %s`, g.selects, g.groupBy, g.orderBy)
	return scan(ctx, db, q, w.start, w.end)
}

// formCVR counts visitors first seen in the window that submitted a
// matching form within it. formPredicate filters on e.metadata's form_id.
func formCVR(formPredicate string, formArg string) queryFunc {
	return func(ctx context.Context, db *gorm.DB, w window, g grouping) ([]metricRow, error) {
		q := fmt.Sprintf(`SELECT %s
			COUNT(DISTINCT v.visitor_id) AS denominator,
			COUNT(DISTINCT c.visitor_id) AS numerator
		FROM visitors v
		LEFT JOIN (
			SELECT DISTINCT e.visitor_id
			FROM events e
			WHERE e.event_type = ?
				AND %s
				AND e.occurred_at >= ? AND e.occurred_at < ?
		) c ON c.visitor_id = v.visitor_id
		WHERE v.first_seen_at >= ? AND v.first_seen_at < ?
		%s %s`, g.selects, formPredicate, g.groupBy, g.orderBy)
		return scan(ctx, db, q, string(events.TypeFormSubmit), formArg, w.start, w.end, w.start, w.end)
	}
}

var (
	queryLeadMagnetCVR    = formCVR("json_extract(e.metadata, '$.form_id') LIKE ?", events.LeadFormPrefix+"%")
	queryWebsiteReviewCVR = formCVR("json_extract(e.metadata, '$.form_id') = ?", events.FormWebsiteReview)
	queryContactCVR       = formCVR("json_extract(e.metadata, '$.form_id') = ?", events.FormBookCall)
)

// Video events in the window, counted by occurrence rather than first visit.
func queryVideoViews(ctx context.Context, db *gorm.DB, w window, g grouping) ([]metricRow, error) {
	q := fmt.Sprintf(`SELECT %s
		COUNT(*) AS denominator,
		COUNT(DISTINCT e.visitor_id) AS numerator
	FROM events e
	LEFT JOIN visitors v ON v.visitor_id = e.visitor_id
	WHERE e.event_type IN (?, ?, ?)
		AND e.occurred_at >= ? AND e.occurred_at < ?
	%s %s`, g.selects, g.groupBy, g.orderBy)
	return scan(ctx, db, q,
		string(events.TypeVideoPlay), string(events.TypeVideoEnded), string(events.TypeVideoProgress),
		w.start, w.end)
}

// Average over visitors of their highest reported time_on_site seconds.
func queryTimeOnSite(ctx context.Context, db *gorm.DB, w window, g grouping) ([]metricRow, error) {
	q := fmt.Sprintf(`SELECT %s
		COUNT(*) AS denominator,
		AVG(secs.max_seconds) AS average
	FROM (
		SELECT visitor_id, MAX(CAST(json_extract(metadata, '$.seconds') AS INTEGER)) AS max_seconds
		FROM events
		WHERE event_type = ? AND occurred_at >= ? AND occurred_at < ?
		GROUP BY visitor_id
	) secs
	LEFT JOIN visitors v ON v.visitor_id = secs.visitor_id
	%s %s`, g.selects, g.groupBy, g.orderBy)
	return scan(ctx, db, q, string(events.TypeTimeOnSite), w.start, w.end)
}

// Visitors first seen in the window, and those whose in-window activity is
// a single event or stays under BounceSeconds of time on site.
func queryBounceRate(ctx context.Context, db *gorm.DB, w window, g grouping) ([]metricRow, error) {
	q := fmt.Sprintf(`SELECT %s
		COUNT(DISTINCT v.visitor_id) AS denominator,
		COUNT(DISTINCT b.visitor_id) AS numerator
	FROM visitors v
	LEFT JOIN (
		SELECT visitor_id FROM (
			SELECT visitor_id,
				COUNT(*) AS ev_count,
				MAX(CASE WHEN event_type = ? THEN CAST(json_extract(metadata, '$.seconds') AS INTEGER) ELSE 0 END) AS max_seconds
			FROM events
			WHERE occurred_at >= ? AND occurred_at < ?
			GROUP BY visitor_id
		) x
		WHERE ev_count = 1 OR max_seconds < ?
	) b ON b.visitor_id = v.visitor_id
	WHERE v.first_seen_at >= ? AND v.first_seen_at < ?
	%s %s`, g.selects, g.groupBy, g.orderBy)
	return scan(ctx, db, q, string(events.TypeTimeOnSite), w.start, w.end, BounceSeconds, w.start, w.end)
}

func roundSeconds(avg sql.NullFloat64) float64 {
	if !avg.Valid {
		return 0
	}
	return math.Round(avg.Float64)
}
