package digest

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	singleTickerRE = regexp.MustCompile(`^\s*([A-Z]{1,5})\s*[:\-–—]\s`)
	multiTickerRE  = regexp.MustCompile(`^\s*([A-Z ,/&-]{3,})\s*[:\-–—]\s`)
	tickerSplitRE  = regexp.MustCompile(`[,\s/&-]+`)
)

// TickersFromSubject reads the ticker symbols a subject line leads with,
// as in "NVDA: ..." or "NVDA, PLTR - ...". The result is sorted and unique.
func TickersFromSubject(subject string) []string {
	set := make(map[string]struct{})

	if m := singleTickerRE.FindStringSubmatch(subject); m != nil {
		set[m[1]] = struct{}{}
	} else if m := multiTickerRE.FindStringSubmatch(subject); m != nil {
		for _, tok := range tickerSplitRE.Split(m[1], -1) {
			tok = strings.ToUpper(strings.TrimSpace(tok))
			if len(tok) > 1 && len(tok) <= 5 && isLetters(tok) {
				set[tok] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// FilterTickers keeps only tickers present in allowed. An empty allowed list
// keeps everything.
func FilterTickers(tickers, allowed []string) []string {
	if len(allowed) == 0 {
		return tickers
	}
	ok := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		ok[strings.ToUpper(strings.TrimSpace(a))] = struct{}{}
	}
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if _, found := ok[t]; found {
			out = append(out, t)
		}
	}
	return out
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
