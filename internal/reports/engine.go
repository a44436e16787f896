package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"vkanalytics/internal/pkg/async"
)

// Engine runs reports against the analytics store.
type Engine struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

// NewEngine returns an engine. A nil dbManager produces "not configured"
// reports.
func NewEngine(dbManager cartridge.DBManager, logger *slog.Logger) *Engine {
	return &Engine{dbManager: dbManager, logger: logger}
}

type metricQuery struct {
	name  string
	query queryFunc
}

var metricQueries = []metricQuery{
	{"overall_cvr", queryOverallCVR},
	{"lm_cvr", queryLeadMagnetCVR},
	{"wrv_cvr", queryWebsiteReviewCVR},
	{"contact_cvr", queryContactCVR},
	{"video_views", queryVideoViews},
	{"time_on_site", queryTimeOnSite},
	{"bounce_rate", queryBounceRate},
}

// Run computes every metric over [start, end). The metrics are queried
// concurrently; the first failing query fails the report.
func (e *Engine) Run(ctx context.Context, start, end time.Time, groupBy GroupBy) (*Report, error) {
	if e.dbManager == nil {
		return &Report{Error: ErrNotConfigured}, nil
	}
	if groupBy == "" {
		groupBy = GroupNone
	}

	period := Period{Start: start.UTC(), End: end.UTC()}
	w := newWindow(period)
	g := groupingFor(groupBy)
	db := e.dbManager.GetConnection()

	tasks := make([]async.Task, len(metricQueries))
	for i, mq := range metricQueries {
		mq := mq
		tasks[i] = async.Task{
			Name: mq.name,
			Execute: func() (interface{}, error) {
				return mq.query(ctx, db, w, g)
			},
		}
	}

	began := time.Now()
	results := async.NewPool(len(tasks)).Execute(ctx, tasks)

	rows := make(map[string][]metricRow, len(metricQueries))
	for _, mq := range metricQueries {
		res, ok := results[mq.name]
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("metric %s did not complete", mq.name)
		}
		if res.Err != nil {
			return nil, fmt.Errorf("failed to compute %s: %w", mq.name, res.Err)
		}
		rows[mq.name], _ = res.Data.([]metricRow)
	}

	e.logger.Debug("Report computed",
		slog.String("start", period.Start.Format(time.RFC3339)),
		slog.String("end", period.End.Format(time.RFC3339)),
		slog.String("group_by", string(groupBy)),
		slog.Duration("took", time.Since(began)))

	grouped := groupBy != GroupNone
	return &Report{
		Period:  period,
		GroupBy: groupBy,
		Metrics: Metrics{
			OverallCVR: build(grouped, rows["overall_cvr"], func(r metricRow) OverallCVR {
				return OverallCVR{Dimensions: r.dimensions(), TotalVisitors: r.Denominator, Conversions: r.Numerator, CVRPct: Pct(r.Numerator, r.Denominator)}
			}),
			LMCVR: build(grouped, rows["lm_cvr"], func(r metricRow) LeadMagnetCVR {
				return LeadMagnetCVR{Dimensions: r.dimensions(), LMConversions: r.Numerator, Visitors: r.Denominator, LMCVRPct: Pct(r.Numerator, r.Denominator)}
			}),
			WRVCVR: build(grouped, rows["wrv_cvr"], func(r metricRow) WebsiteReviewCVR {
				return WebsiteReviewCVR{Dimensions: r.dimensions(), WRVConversions: r.Numerator, Visitors: r.Denominator, WRVCVRPct: Pct(r.Numerator, r.Denominator)}
			}),
			ContactCVR: build(grouped, rows["contact_cvr"], func(r metricRow) ContactCVR {
				return ContactCVR{Dimensions: r.dimensions(), ContactConversions: r.Numerator, Visitors: r.Denominator, ContactCVRPct: Pct(r.Numerator, r.Denominator)}
			}),
			VideoViews: build(grouped, rows["video_views"], func(r metricRow) VideoViews {
				return VideoViews{Dimensions: r.dimensions(), VideoEvents: r.Denominator, UniqueViewers: r.Numerator}
			}),
			TimeOnSite: build(grouped, rows["time_on_site"], func(r metricRow) TimeOnSite {
				return TimeOnSite{Dimensions: r.dimensions(), AvgSeconds: roundSeconds(r.Average), VisitorsWithTime: r.Denominator}
			}),
			BounceRate: build(grouped, rows["bounce_rate"], func(r metricRow) BounceRate {
				return BounceRate{Dimensions: r.dimensions(), TotalVisitors: r.Denominator, Bounces: r.Numerator, BounceRatePct: Pct(r.Numerator, r.Denominator)}
			}),
		},
	}, nil
}

func build[T any](grouped bool, rows []metricRow, convert func(metricRow) T) Result[T] {
	if !grouped {
		var total T
		if len(rows) > 0 {
			total = convert(rows[0])
		}
		return Result[T]{Total: total}
	}

	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, convert(r))
	}
	return Result[T]{Grouped: true, Rows: out}
}
