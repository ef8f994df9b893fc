// Package email defines the email data model used on both sides of the
// digester: newsletters parsed from the mailbox, and digests mailed out by
// the email publishers.
package email

import (
	"fmt"
	"strings"
	"time"

	"github.com/shineum/newsletter-digest/internal/digest"
)

// Email represents a parsed email message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Date        time.Time
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string
	// Snippet is the provider's short preview, when it supplies one.
	Snippet string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// FromSummary builds the outgoing email that carries a digest to recipients.
// The markdown is sent as the plain-text body and attached as a .md file.
func FromSummary(s *digest.Summary, from string, to []string) *Email {
	var b strings.Builder
	b.WriteString(s.Markdown)
	if !strings.HasSuffix(s.Markdown, "\n") {
		b.WriteString("\n")
	}
	if s.SourceURL != "" || s.Subject != "" {
		b.WriteString("\n---\n")
		if s.Subject != "" {
			fmt.Fprintf(&b, "Original: %s\n", s.Subject)
		}
		if s.SourceURL != "" {
			fmt.Fprintf(&b, "Source: %s\n", s.SourceURL)
		}
	}

	return &Email{
		From:     from,
		To:       append([]string(nil), to...),
		Subject:  "[Digest] " + s.Title,
		Date:     s.CreatedAt,
		TextBody: b.String(),
		Attachments: []Attachment{{
			Filename:    attachmentName(s.MessageID),
			ContentType: "text/markdown",
			Content:     []byte(s.Markdown),
		}},
	}
}

func attachmentName(messageID string) string {
	if messageID == "" {
		return "digest.md"
	}
	return "digest-" + messageID + ".md"
}
