// Package mailbox defines the interface for mail sources that supply
// newsletter candidates and record which ones have been processed.
package mailbox

import (
	"context"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/email"
	"github.com/shineum/newsletter-digest/internal/markup"
)

// Source searches a mailbox and labels handled messages.
type Source interface {
	// Search returns the messages matching query that do not yet carry the
	// processed label, in the order the provider returned them.
	Search(ctx context.Context, query string) ([]*digest.Message, error)
	// MarkProcessed adds the processed label to a message.
	MarkProcessed(ctx context.Context, id string) error
	// Name returns the source name for logging.
	Name() string
}

// ExcludeLabel appends a clause to a Gmail search query that drops messages
// already carrying label. Gmail matches label names with "/" and spaces
// written as "-".
func ExcludeLabel(query, label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return query
	}
	name := strings.NewReplacer("/", "-", " ", "-").Replace(strings.ToLower(label))
	clause := "-label:" + name
	if strings.TrimSpace(query) == "" {
		return clause
	}
	return query + " " + clause
}

// FromEmail builds a digest.Message from a parsed email. The plain text body
// is preferred; an HTML-only message is converted to markdown, and a message
// with neither falls back to the provider snippet. Links come
// from anchors in the HTML body and URLs in the text, ranked by domain.
func FromEmail(id string, e *email.Email, received time.Time) *digest.Message {
	var links []string
	if e.HtmlBody != "" {
		links = markup.Links(e.HtmlBody)
	}

	body := strings.TrimSpace(e.TextBody)
	if body == "" && e.HtmlBody != "" {
		md, err := markup.ToMarkdown(e.HtmlBody, "")
		if err != nil {
			slog.Warn("failed to convert html body", "message_id", id, "error", err)
		}
		body = md
	}
	if strings.TrimSpace(body) == "" {
		body = html.UnescapeString(e.Snippet)
	}
	body = strings.TrimSpace(digest.StripInvisibles(body))
	links = append(links, digest.FindURLs(body)...)

	msg := &digest.Message{
		ID:      id,
		Subject: strings.TrimSpace(digest.StripInvisibles(e.Subject)),
		From:    e.From,
		Body:    body,
		Links:   digest.RankLinks(links, digest.NewsDomains),
	}
	if !received.IsZero() {
		msg.ReceivedAt = received.UTC()
	}
	if !e.Date.IsZero() {
		msg.HeaderDate = e.Date.UTC()
	}
	return msg
}
