package digest

import (
	"regexp"
	"strings"
	"time"
)

// DisplayLayout is how summary dates are rendered to readers.
const DisplayLayout = "2006.01.02. 15:04"

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(?::\d{2})?(?:\.\d+)?[+-]\d{2}:?\d{2}`),
	regexp.MustCompile(`\d{4}/\d{2}/\d{2}\s+\d{2}:\d{2}(?::\d{2})?`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
}

// timestampPatterns are the datePatterns that carry a time of day.
var timestampPatterns = datePatterns[:3]

// ParseDate finds the first date-like token in s and parses it.
// Tokens without a zone are taken as UTC. The result is in UTC.
func ParseDate(s string) (time.Time, bool) {
	return parseFirst(s, datePatterns)
}

// ScanTimestamp is ParseDate without the bare YYYY-MM-DD form. Use it on
// free text such as a whole page, where bare dates show up in asset
// versions and paths.
func ScanTimestamp(s string) (time.Time, bool) {
	return parseFirst(s, timestampPatterns)
}

func parseFirst(s string, patterns []*regexp.Regexp) (time.Time, bool) {
	for _, re := range patterns {
		tok := re.FindString(s)
		if tok == "" {
			continue
		}
		tok = strings.Join(strings.Fields(tok), " ")
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, tok); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// ChooseDate picks the most trustworthy timestamp for a message: the
// article's own published date, then the Date header, then the time the
// provider received it.
func ChooseDate(article, header, received time.Time) (time.Time, DateSource) {
	switch {
	case !article.IsZero():
		return article, DateSourceArticle
	case !header.IsZero():
		return header, DateSourceHeader
	case !received.IsZero():
		return received, DateSourceInternal
	default:
		return time.Time{}, DateSourceNone
	}
}

// FormatDate renders t in loc using DisplayLayout. A zero time renders as "".
func FormatDate(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}
