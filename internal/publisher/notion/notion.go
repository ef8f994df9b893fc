// Package notion implements a Publisher that files each summary as a page
// in a Notion database.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/httplog"
)

const (
	defaultAPIURL  = "https://api.notion.com"
	defaultVersion = "2022-06-28"

	// maxBlocksPerRequest is the most children Notion accepts in one call.
	maxBlocksPerRequest = 100
)

// Publisher creates one database page per summary.
type Publisher struct {
	cfg    config.NotionConfig
	client *notionapi.Client
}

// New creates a Publisher using the configured API URL and timeout.
func New(cfg config.NotionConfig) *Publisher {
	return NewWithClient(cfg, httplog.Client("notion", cfg.Timeout))
}

// NewWithClient creates a Publisher with a custom HTTP client. A non-default
// cfg.APIURL redirects every request to that host.
func NewWithClient(cfg config.NotionConfig, client *http.Client) *Publisher {
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.TitleProperty == "" {
		cfg.TitleProperty = "Name"
	}

	hc := *client
	if base := strings.TrimRight(cfg.APIURL, "/"); base != "" && base != defaultAPIURL {
		if target, err := url.Parse(base); err == nil && target.Host != "" {
			hc.Transport = &rebaseTransport{target: target, inner: hc.Transport}
		}
	}

	return &Publisher{
		cfg: cfg,
		client: notionapi.NewClient(
			notionapi.Token(cfg.Token),
			notionapi.WithHTTPClient(&hc),
			notionapi.WithVersion(cfg.Version),
			// One attempt: a rate-limited page is retried on the next poll.
			notionapi.WithRetry(1),
		),
	}
}

// Name returns the publisher name.
func (p *Publisher) Name() string {
	return config.PublisherNotion
}

// Publish creates the page with the first 100 blocks and appends the rest
// in batches. A failure while appending leaves a partial page behind and is
// still reported, so the message is retried.
func (p *Publisher) Publish(ctx context.Context, s *digest.Summary) (string, error) {
	blocks := Blocks(s.Markdown)
	first, rest := blocks, []notionapi.Block(nil)
	if len(blocks) > maxBlocksPerRequest {
		first, rest = blocks[:maxBlocksPerRequest], blocks[maxBlocksPerRequest:]
	}

	page, err := p.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(p.cfg.DatabaseID),
		},
		Properties: p.properties(s),
		Children:   first,
	})
	if err != nil {
		return "", classify("create page", err)
	}
	id := page.ID.String()
	if id == "" {
		return "", fmt.Errorf("%w: notion: page created without an id", digest.ErrAPI)
	}

	for len(rest) > 0 {
		n := min(len(rest), maxBlocksPerRequest)
		_, err := p.client.Block.AppendChildren(ctx, notionapi.BlockID(id), &notionapi.AppendBlockChildrenRequest{
			Children: rest[:n],
		})
		if err != nil {
			return "", classify("append to page "+id, err)
		}
		rest = rest[n:]
	}

	return id, nil
}

// properties maps the summary onto the configured database columns.
// Unset optional column names are left out.
func (p *Publisher) properties(s *digest.Summary) notionapi.Properties {
	props := notionapi.Properties{
		p.cfg.TitleProperty: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: Plain(s.Title),
		},
	}
	if p.cfg.DateProperty != "" && !s.Date.IsZero() {
		start := notionapi.Date(s.Date.UTC().Truncate(time.Second))
		props[p.cfg.DateProperty] = notionapi.DateProperty{
			Type: notionapi.PropertyTypeDate,
			Date: &notionapi.DateObject{Start: &start},
		}
	}
	if p.cfg.TickersProperty != "" {
		opts := make([]notionapi.Option, 0, len(s.Tickers))
		for _, t := range s.Tickers {
			opts = append(opts, notionapi.Option{Name: t})
		}
		props[p.cfg.TickersProperty] = notionapi.MultiSelectProperty{
			Type:        notionapi.PropertyTypeMultiSelect,
			MultiSelect: opts,
		}
	}
	if p.cfg.URLProperty != "" && s.SourceURL != "" {
		props[p.cfg.URLProperty] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  s.SourceURL,
		}
	}
	return props
}

// classify maps API errors onto the digest kinds: 401 is ErrAuth, every
// other failure is ErrAPI.
func classify(op string, err error) error {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		kind := digest.ErrAPI
		if apiErr.Status == http.StatusUnauthorized {
			kind = digest.ErrAuth
		}
		return fmt.Errorf("%w: notion %s returned %d %s: %s", kind, op, apiErr.Status, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: notion %s: %w", digest.ErrAPI, op, err)
}

// rebaseTransport sends every request to target's scheme and host.
type rebaseTransport struct {
	target *url.URL
	inner  http.RoundTripper
}

func (t *rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.Host = t.target.Host

	inner := t.inner
	if inner == nil {
		inner = http.DefaultTransport
	}
	return inner.RoundTrip(r)
}
