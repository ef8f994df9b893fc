// Package publisher defines the interface for destinations that receive
// finished summaries, and Multi, which fans a summary out to several of them.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/newsletter-digest/internal/digest"
)

// Publisher is the interface that summary destinations must implement.
// Each publisher files one summary in its target service (Notion, a
// directory of markdown files, an inbox, etc.).
type Publisher interface {
	// Publish stores the summary and returns the id the destination
	// assigned to it: a page id, a file path or a message id.
	Publish(ctx context.Context, s *digest.Summary) (string, error)

	// Name returns the human-readable name of this publisher.
	Name() string
}

// Multi publishes to each publisher in order.
type Multi []Publisher

// Publish stops at the first failure so the caller leaves the message
// unprocessed. Destinations that already succeeded will receive the
// summary again on the next poll. The returned id is the first
// publisher's.
func (m Multi) Publish(ctx context.Context, s *digest.Summary) (string, error) {
	if len(m) == 0 {
		return "", fmt.Errorf("no publishers configured")
	}

	var first string
	for i, p := range m {
		id, err := p.Publish(ctx, s)
		if err != nil {
			return "", fmt.Errorf("%s: %w", p.Name(), err)
		}
		slog.DebugContext(ctx, "summary published",
			"publisher", p.Name(),
			"id", id,
			"message_id", s.MessageID,
		)
		if i == 0 {
			first = id
		}
	}
	return first, nil
}

// Name joins the member names.
func (m Multi) Name() string {
	name := ""
	for i, p := range m {
		if i > 0 {
			name += "+"
		}
		name += p.Name()
	}
	return name
}
