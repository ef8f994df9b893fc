// Package article downloads pages linked from newsletters and extracts
// their readable text, title and publication time.
package article

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/httplog"
	"github.com/shineum/newsletter-digest/internal/markup"
)

const (
	maxBodyBytes   = 5 << 20
	minHTMLLen     = 800
	minContentLen  = 180
	defaultTimeout = 15 * time.Second
)

// contentSelectors locate the article body on common news layouts.
var contentSelectors = compileAll(
	"article",
	"[itemprop='articleBody']",
	".article-body",
	".content__article-body",
	".story-content",
	".sa-art",
	".post-content",
	"#article-body",
	".body__inner-container",
)

var (
	noiseSel  = cascadia.MustCompile("script, style, nav, header, footer, aside, form, noscript, iframe")
	bodySel   = cascadia.MustCompile("body")
	titleSel  = cascadia.MustCompile("title")
	ogTitle   = cascadia.MustCompile(`meta[property="og:title"]`)
	timeSel   = cascadia.MustCompile("time[datetime]")
	jsonLDSel = cascadia.MustCompile(`script[type="application/ld+json"]`)

	// dateMetas are tried in order before <time> and JSON-LD.
	dateMetas = compileAll(
		`meta[property="article:published_time"]`,
		`meta[property="article:modified_time"]`,
		`meta[property="og:updated_time"]`,
		`meta[name="date"]`,
	)
)

// jsonLDTypes are the schema.org types whose dates describe the article.
var jsonLDTypes = map[string]bool{"NewsArticle": true, "Article": true, "BlogPosting": true}

func compileAll(sels ...string) []cascadia.Selector {
	out := make([]cascadia.Selector, 0, len(sels))
	for _, s := range sels {
		out = append(out, cascadia.MustCompile(s))
	}
	return out
}

// Fetcher retrieves articles over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// New creates a Fetcher with the configured timeout and User-Agent.
func New(cfg config.ArticleConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewWithClient(httplog.Client("article", timeout), cfg.UserAgent)
}

// NewWithClient creates a Fetcher that uses client.
func NewWithClient(client *http.Client, userAgent string) *Fetcher {
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	return &Fetcher{client: client, userAgent: userAgent}
}

// Fetch downloads url and extracts the article. Every failure, including
// pages too short to be an article, is reported as digest.ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*digest.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", digest.ErrFetch, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", digest.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s returned status %d", digest.ErrFetch, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", digest.ErrFetch, url, err)
	}

	if !isHTML(resp.Header.Get("Content-Type"), body) {
		return nil, fmt.Errorf("%w: %s is not HTML (%s)", digest.ErrFetch, url, resp.Header.Get("Content-Type"))
	}

	src := digest.StripInvisibles(string(body))
	if len(src) < minHTMLLen {
		return nil, fmt.Errorf("%w: %s returned only %d bytes of HTML", digest.ErrFetch, url, len(src))
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return Extract(src, finalURL)
}

// Extract parses an HTML page and returns its article content.
func Extract(src, pageURL string) (*digest.Article, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML: %w", digest.ErrFetch, err)
	}

	// Dates and titles live in <head> and JSON-LD scripts, so read them
	// before noise is stripped.
	published := publishedAt(doc, src)
	title := pageTitle(doc)

	for _, n := range cascadia.QueryAll(doc, noiseSel) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	text := bestContent(doc, pageURL)
	if digest.RuneLen(text) < minContentLen {
		return nil, fmt.Errorf("%w: %s has only %d characters of content", digest.ErrFetch, pageURL, digest.RuneLen(text))
	}

	return &digest.Article{
		URL:         pageURL,
		Title:       title,
		Text:        text,
		PublishedAt: published,
	}, nil
}

// bestContent returns the longest markdown rendering among the content
// selectors, falling back to the whole body.
func bestContent(doc *html.Node, pageURL string) string {
	var best string
	for _, sel := range contentSelectors {
		n := sel.MatchFirst(doc)
		if n == nil {
			continue
		}
		if md := render(n, pageURL); digest.RuneLen(md) > digest.RuneLen(best) {
			best = md
		}
	}
	if digest.RuneLen(best) >= minContentLen {
		return best
	}

	if body := bodySel.MatchFirst(doc); body != nil {
		if md := render(body, pageURL); digest.RuneLen(md) > digest.RuneLen(best) {
			best = md
		}
	}
	return best
}

func render(n *html.Node, pageURL string) string {
	md, err := markup.NodeToMarkdown(n, pageURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(digest.StripInvisibles(md))
}

func pageTitle(doc *html.Node) string {
	if n := ogTitle.MatchFirst(doc); n != nil {
		if t := strings.TrimSpace(markup.Attr(n, "content")); t != "" {
			return t
		}
	}
	if n := titleSel.MatchFirst(doc); n != nil {
		return markup.Text(n)
	}
	return ""
}

// publishedAt looks for the article time in meta tags, <time datetime>,
// JSON-LD, and finally for a full timestamp anywhere in the page source.
func publishedAt(doc *html.Node, src string) time.Time {
	for _, sel := range dateMetas {
		if n := sel.MatchFirst(doc); n != nil {
			if t, ok := digest.ParseDate(markup.Attr(n, "content")); ok {
				return t
			}
		}
	}
	if n := timeSel.MatchFirst(doc); n != nil {
		if t, ok := digest.ParseDate(markup.Attr(n, "datetime")); ok {
			return t
		}
	}
	for _, n := range cascadia.QueryAll(doc, jsonLDSel) {
		if t, ok := jsonLDDate(markup.Text(n)); ok {
			return t
		}
	}
	if t, ok := digest.ScanTimestamp(src); ok {
		return t
	}
	return time.Time{}
}

// jsonLDDate reads datePublished, dateModified or dateCreated from the first
// article object in a JSON-LD block. Arrays and @graph wrappers are searched.
func jsonLDDate(raw string) (time.Time, bool) {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return time.Time{}, false
	}

	var objs []map[string]any
	var collect func(v any)
	collect = func(v any) {
		switch v := v.(type) {
		case []any:
			for _, item := range v {
				collect(item)
			}
		case map[string]any:
			objs = append(objs, v)
			if g, ok := v["@graph"]; ok {
				collect(g)
			}
		}
	}
	collect(data)

	for _, obj := range objs {
		typ, _ := obj["@type"].(string)
		if !jsonLDTypes[typ] {
			continue
		}
		for _, key := range []string{"datePublished", "dateModified", "dateCreated"} {
			if s, ok := obj[key].(string); ok {
				if t, ok := digest.ParseDate(s); ok {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

// isHTML accepts text/html and XHTML. A missing Content-Type is sniffed.
func isHTML(contentType string, body []byte) bool {
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

