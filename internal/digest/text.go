package digest

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultTitle is used when a summary has no usable first line.
const DefaultTitle = "핵심 이슈 요약"

// NewsDomains are preferred, in order, when choosing which links to fetch.
var NewsDomains = []string{
	"seekingalpha.com",
	"finance.yahoo.com",
	"cnbc.com",
	"bloomberg.com",
	"reuters.com",
}

var (
	invisibleRE = regexp.MustCompile(`[\x{200B}-\x{200F}\x{2028}\x{2029}\x{2060}]+`)
	urlRE       = regexp.MustCompile(`(?i)https?://[^\s)>\]]+`)
)

// StripInvisibles removes zero-width and line/paragraph separator characters
// that newsletters use for tracking and layout.
func StripInvisibles(s string) string {
	return invisibleRE.ReplaceAllString(s, "")
}

// FindURLs returns every http(s) URL in plain text, in order of appearance.
func FindURLs(s string) []string {
	return urlRE.FindAllString(s, -1)
}

// RankLinks de-duplicates links and moves those on news domains to the front,
// earlier domains in domains first. The relative order of equal-ranked links
// is kept.
func RankLinks(links []string, domains []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l == "" || !isHTTP(l) {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}

	rank := func(u string) int {
		for i, d := range domains {
			if strings.Contains(u, d) {
				return i
			}
		}
		return len(domains)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j])
	})
	return out
}

func isHTTP(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// TitleFromMarkdown derives a page title from a summary. The model is asked
// to open with "<title> | <date>", so the first line is cut at "|".
func TitleFromMarkdown(md string) string {
	md = strings.TrimSpace(md)
	if md == "" {
		return DefaultTitle
	}
	first, _, _ := strings.Cut(md, "\n")
	title, _, _ := strings.Cut(first, "|")
	title = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(title), "#"))
	if title == "" {
		return DefaultTitle
	}
	return title
}

// RuneLen counts characters rather than bytes; thresholds in this package are
// defined in characters because most newsletters here are not ASCII.
func RuneLen(s string) int {
	return len([]rune(s))
}
