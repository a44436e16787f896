package crm

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength is the longest text Notion accepts in one rich text item.
const MaxTextLength = 2000

var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid",
}

var schemeRe = regexp.MustCompile(`(?i)^https?://`)

// NormalizeURL canonicalizes a website or profile URL so that the same page
// typed two different ways compares equal. The scheme becomes https, the host
// is lowercased and tracking parameters are dropped; the remaining query keeps
// its order. A trailing slash is stripped unless the path is the root.
// Empty or unparseable input yields "".
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !schemeRe.MatchString(s) {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" || strings.ContainsAny(u.Host, " \t") {
		return ""
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.RawPath = ""
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = stripTrackingParams(u.RawQuery)
	u.ForceQuery = false

	out := u.String()
	if u.Path != "/" && strings.HasSuffix(out, "/") {
		out = strings.TrimSuffix(out, "/")
	}
	return out
}

// stripTrackingParams drops tracking pairs from a raw query without
// re-encoding or reordering the rest.
func stripTrackingParams(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if slices.Contains(trackingParams, key) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// Title picks the CRM row title for a lead: the person's name, else the
// company, else a timestamped placeholder.
func Title(lead Lead, submittedAt time.Time) string {
	if name := strings.TrimSpace(lead.Name); name != "" {
		return truncate(name, MaxTextLength)
	}
	if company := strings.TrimSpace(lead.Company); company != "" {
		return truncate(company, MaxTextLength)
	}
	return "Website lead - " + submittedAt.UTC().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
