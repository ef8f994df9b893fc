// Package stdout implements a Publisher that prints summaries to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
)

// Publisher prints summaries in a human-readable format.
type Publisher struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	loc    *time.Location
}

// New creates a new stdout Publisher that writes to os.Stdout and shows
// dates in loc.
func New(loc *time.Location) *Publisher {
	return NewWithWriter(os.Stdout, loc)
}

// NewWithWriter creates a new stdout Publisher that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer, loc *time.Location) *Publisher {
	if loc == nil {
		loc = time.UTC
	}
	return &Publisher{writer: w, loc: loc}
}

// Publish prints the summary and returns "stdout".
func (p *Publisher) Publish(_ context.Context, s *digest.Summary) (string, error) {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("Title: %s\n", s.Title))
	if !s.Date.IsZero() {
		b.WriteString(fmt.Sprintf("Date: %s (%s)\n", digest.FormatDate(s.Date, p.loc), s.DateSource))
	}
	if len(s.Tickers) > 0 {
		b.WriteString(fmt.Sprintf("Tickers: %s\n", strings.Join(s.Tickers, ", ")))
	}
	if s.SourceURL != "" {
		b.WriteString(fmt.Sprintf("Source: %s\n", s.SourceURL))
	}
	b.WriteString(fmt.Sprintf("Length: %s\n", formatSize(len(s.Markdown))))
	b.WriteString("----------------------------------------\n")
	b.WriteString(s.Markdown)
	if !strings.HasSuffix(s.Markdown, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return config.PublisherStdout, nil
}

// Name returns the publisher name.
func (p *Publisher) Name() string {
	return config.PublisherStdout
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
