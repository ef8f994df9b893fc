// Package markdown implements a Publisher that writes each summary to a
// file in a local directory.
package markdown

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
)

// Publisher writes <dir>/<YYYYMMDD-HHMMSS>_<messageID>.md.
type Publisher struct {
	dir string
	now func() time.Time
}

// New creates a Publisher writing into dir. The directory is created on
// first use.
func New(dir string) *Publisher {
	return &Publisher{dir: dir, now: time.Now}
}

// Name returns the publisher name.
func (p *Publisher) Name() string {
	return config.PublisherMarkdown
}

// Publish writes the markdown unchanged and returns the file path.
func (p *Publisher) Publish(_ context.Context, s *digest.Summary) (string, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	path := filepath.Join(p.dir, Filename(s.MessageID, p.now()))
	if err := os.WriteFile(path, []byte(s.Markdown), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// Filename builds the output file name for a message. Path separators in
// the id are replaced so the file always lands in the output directory.
func Filename(messageID string, t time.Time) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(messageID)
	if safe == "" {
		safe = "message"
	}
	return t.Format("20060102-150405") + "_" + safe + ".md"
}
