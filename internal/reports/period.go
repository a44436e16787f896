package reports

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPeriodDays is the report window when no dates are given.
const DefaultPeriodDays = 30

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts RFC 3339 timestamps and YYYY-MM-DD dates. Values
// without a zone are UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or an RFC 3339 timestamp", s)
}

// ParsePeriod resolves optional start and end values. A missing bound
// falls back to the last DefaultPeriodDays days ending at now, and reversed
// bounds are swapped.
func ParsePeriod(start, end string, now time.Time) (Period, error) {
	p := Period{
		Start: now.UTC().AddDate(0, 0, -DefaultPeriodDays),
		End:   now.UTC(),
	}

	if strings.TrimSpace(start) != "" {
		t, err := ParseDate(start)
		if err != nil {
			return Period{}, err
		}
		p.Start = t
	}
	if strings.TrimSpace(end) != "" {
		t, err := ParseDate(end)
		if err != nil {
			return Period{}, err
		}
		p.End = t
	}

	if p.Start.After(p.End) {
		p.Start, p.End = p.End, p.Start
	}
	return p, nil
}
