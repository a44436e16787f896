package reports

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// TextOptions controls FormatText.
type TextOptions struct {
	// Tables prints the breakdown rows of a grouped report.
	Tables bool
	// Width truncates table lines; 0 leaves them as is.
	Width int
}

// FormatText renders a human readable summary of r.
func FormatText(r *Report, opts TextOptions) string {
	if r.Error != "" {
		b, _ := json.MarshalIndent(r, "", "  ")
		return string(b)
	}

	p := message.NewPrinter(language.English)
	var sb strings.Builder
	p.Fprintf(&sb, "Period: %s → %s\n", r.Period.Start.Format(periodLayout), r.Period.End.Format(periodLayout))
	if r.GroupBy != GroupNone {
		p.Fprintf(&sb, "Group by: %s\n", cases.Title(language.English).String(string(r.GroupBy)))
	}
	sb.WriteString("\n")

	m := r.Metrics
	if r.GroupBy == GroupNone {
		p.Fprintf(&sb, "Overall CVR:  %d visitors, %d conversions, %v%%\n", m.OverallCVR.Total.TotalVisitors, m.OverallCVR.Total.Conversions, m.OverallCVR.Total.CVRPct)
		p.Fprintf(&sb, "LM CVR:       %d conversions, %v%%\n", m.LMCVR.Total.LMConversions, m.LMCVR.Total.LMCVRPct)
		p.Fprintf(&sb, "WRV CVR:      %d conversions, %v%%\n", m.WRVCVR.Total.WRVConversions, m.WRVCVR.Total.WRVCVRPct)
		p.Fprintf(&sb, "Contact CVR:  %d conversions, %v%%\n", m.ContactCVR.Total.ContactConversions, m.ContactCVR.Total.ContactCVRPct)
		p.Fprintf(&sb, "Video views:  %d events, %d unique viewers\n", m.VideoViews.Total.VideoEvents, m.VideoViews.Total.UniqueViewers)
		p.Fprintf(&sb, "Time on site: %vs avg, %d visitors\n", m.TimeOnSite.Total.AvgSeconds, m.TimeOnSite.Total.VisitorsWithTime)
		p.Fprintf(&sb, "Bounce rate:  %d bounces / %d visitors, %v%%\n", m.BounceRate.Total.Bounces, m.BounceRate.Total.TotalVisitors, m.BounceRate.Total.BounceRatePct)
		return sb.String()
	}

	sb.WriteString("(Grouped breakdown – use --json for full data)\n")
	p.Fprintf(&sb, "Overall CVR rows:  %d\n", m.OverallCVR.Len())
	p.Fprintf(&sb, "LM CVR rows:       %d\n", m.LMCVR.Len())
	p.Fprintf(&sb, "WRV CVR rows:      %d\n", m.WRVCVR.Len())
	p.Fprintf(&sb, "Contact CVR rows:  %d\n", m.ContactCVR.Len())
	p.Fprintf(&sb, "Video views rows:  %d\n", m.VideoViews.Len())
	p.Fprintf(&sb, "Time on site rows: %d\n", m.TimeOnSite.Len())
	p.Fprintf(&sb, "Bounce rate rows:  %d\n", m.BounceRate.Len())

	if !opts.Tables {
		return sb.String()
	}

	table(&sb, opts.Width, "Overall CVR", []string{"visitors", "conversions", "cvr %"}, m.OverallCVR.Rows, func(r OverallCVR) (Dimensions, []any) {
		return r.Dimensions, []any{r.TotalVisitors, r.Conversions, r.CVRPct}
	})
	table(&sb, opts.Width, "LM CVR", []string{"visitors", "conversions", "cvr %"}, m.LMCVR.Rows, func(r LeadMagnetCVR) (Dimensions, []any) {
		return r.Dimensions, []any{r.Visitors, r.LMConversions, r.LMCVRPct}
	})
	table(&sb, opts.Width, "WRV CVR", []string{"visitors", "conversions", "cvr %"}, m.WRVCVR.Rows, func(r WebsiteReviewCVR) (Dimensions, []any) {
		return r.Dimensions, []any{r.Visitors, r.WRVConversions, r.WRVCVRPct}
	})
	table(&sb, opts.Width, "Contact CVR", []string{"visitors", "conversions", "cvr %"}, m.ContactCVR.Rows, func(r ContactCVR) (Dimensions, []any) {
		return r.Dimensions, []any{r.Visitors, r.ContactConversions, r.ContactCVRPct}
	})
	table(&sb, opts.Width, "Video views", []string{"events", "viewers"}, m.VideoViews.Rows, func(r VideoViews) (Dimensions, []any) {
		return r.Dimensions, []any{r.VideoEvents, r.UniqueViewers}
	})
	table(&sb, opts.Width, "Time on site", []string{"visitors", "avg s"}, m.TimeOnSite.Rows, func(r TimeOnSite) (Dimensions, []any) {
		return r.Dimensions, []any{r.VisitorsWithTime, r.AvgSeconds}
	})
	table(&sb, opts.Width, "Bounce rate", []string{"visitors", "bounces", "rate %"}, m.BounceRate.Rows, func(r BounceRate) (Dimensions, []any) {
		return r.Dimensions, []any{r.TotalVisitors, r.Bounces, r.BounceRatePct}
	})
	return sb.String()
}

func table[T any](sb *strings.Builder, width int, title string, headers []string, rows []T, cells func(T) (Dimensions, []any)) {
	var buf strings.Builder
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "group\t%s\n", strings.Join(headers, "\t"))
	for _, row := range rows {
		dims, values := cells(row)
		cols := make([]string, len(values))
		for i, v := range values {
			cols[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(tw, "%s\t%s\n", dims.Key(), strings.Join(cols, "\t"))
	}
	tw.Flush()

	fmt.Fprintf(sb, "\n%s\n", title)
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if width > 0 && len([]rune(line)) > width {
			line = string([]rune(line)[:width])
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}
