// Package parser turns raw RFC 5322 messages, as downloaded from the
// mailbox, into email.Email values with decoded UTF-8 bodies.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/newsletter-digest/internal/email"
)

// Parse parses a raw RFC 5322 email message into an Email struct.
// Transfer encodings and non-UTF-8 charsets are decoded. Every inline
// text/plain part is joined into TextBody and every text/html part into
// HtmlBody, one newline apart; named parts become attachments.
// Parts in an unknown charset are kept undecoded and logged as warnings.
func Parse(raw []byte) (*email.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		if mr == nil {
			return nil, fmt.Errorf("failed to parse message: %w", err)
		}
		slog.Warn("message uses an unknown charset", "error", err)
	}
	defer mr.Close()

	result := &email.Email{
		RawHeaders: make(map[string][]string),
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		result.RawHeaders[fields.Key()] = append(result.RawHeaders[fields.Key()], fields.Value())
	}

	if subject, err := mr.Header.Subject(); err == nil {
		result.Subject = subject
	} else {
		result.Subject = mr.Header.Get("Subject")
	}
	result.From = formatFrom(&mr.Header)
	result.To = parseAddressList(&mr.Header, "To")
	result.Cc = parseAddressList(&mr.Header, "Cc")
	result.Bcc = parseAddressList(&mr.Header, "Bcc")
	result.MessageID = mr.Header.Get("Message-Id")
	if date, err := mr.Header.Date(); err == nil {
		result.Date = date
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) && part != nil {
				slog.Warn("part uses an unknown charset, reading undecoded", "error", err)
			} else {
				return nil, fmt.Errorf("failed to read next part: %w", err)
			}
		}

		if err := addPart(result, part); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// addPart files one leaf part as a body or an attachment.
func addPart(result *email.Email, part *mail.Part) error {
	var h message.Header
	switch ph := part.Header.(type) {
	case *mail.InlineHeader:
		h = ph.Header
	case *mail.AttachmentHeader:
		h = ph.Header
	}

	mediaType, params, err := h.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	disposition, dispParams, _ := h.ContentDisposition()

	content, err := io.ReadAll(part.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s part: %w", mediaType, err)
	}

	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}

	if disposition != "attachment" {
		switch mediaType {
		case "text/plain":
			result.TextBody = joinBody(result.TextBody, string(content))
			return nil
		case "text/html":
			result.HtmlBody = joinBody(result.HtmlBody, string(content))
			return nil
		}
	}

	if disposition == "attachment" || filename != "" {
		if filename == "" {
			filename = fallbackFilename(mediaType)
		}
		result.Attachments = append(result.Attachments, email.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Content:     content,
		})
		return nil
	}

	slog.Warn("unrecognized MIME part, skipping",
		"content_type", mediaType,
		"disposition", disposition,
	)
	return nil
}

func joinBody(body, part string) string {
	if body == "" {
		return part
	}
	return body + "\n" + part
}

// fallbackFilename names an attachment that arrived without one.
func fallbackFilename(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

// formatFrom renders the sender as "Name <addr>" or just the address,
// falling back to the raw header when it does not parse.
func formatFrom(h *mail.Header) string {
	addrs, err := h.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(h.Get("From"))
	}
	a := addrs[0]
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// parseAddressList returns the bare addresses of an address header.
func parseAddressList(h *mail.Header, key string) []string {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}

	addrs, err := h.AddressList(key)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		var result []string
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addrs))
	for _, a := range addrs {
		result = append(result, a.Address)
	}
	return result
}
