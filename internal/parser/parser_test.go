package parser

import (
	"strings"
	"testing"
	"time"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Date: Tue, 04 Nov 2025 05:22:31 -0800",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "sender@example.com")
	}
	if len(msg.To) != 1 || msg.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, "<test123@example.com>")
	}
	wantDate := time.Date(2025, 11, 4, 13, 22, 31, 0, time.UTC)
	if !msg.Date.Equal(wantDate) {
		t.Errorf("Date: got %v, want %v", msg.Date, wantDate)
	}
	if msg.TextBody != "Hello, this is a plain text email." {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Hello, this is a plain text email.")
	}
	if msg.HtmlBody != "" {
		t.Errorf("HtmlBody: got %q, want empty", msg.HtmlBody)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments: got %d, want 0", len(msg.Attachments))
	}
}

func TestParseMultipartTextAndHTML(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: Seeking Alpha <account@seekingalpha.com>",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "Seeking Alpha <account@seekingalpha.com>" {
		t.Errorf("From: got %q, want %q", msg.From, "Seeking Alpha <account@seekingalpha.com>")
	}
	if len(msg.To) != 2 || msg.To[0] != "alice@example.com" || msg.To[1] != "bob@example.com" {
		t.Errorf("To: got %v, want [alice@example.com bob@example.com]", msg.To)
	}
	if len(msg.Cc) != 1 || msg.Cc[0] != "carol@example.com" {
		t.Errorf("Cc: got %v, want [carol@example.com]", msg.Cc)
	}
	if msg.TextBody != "Plain text body" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Plain text body")
	}
	if msg.HtmlBody != "<html><body><p>HTML body</p></body></html>" {
		t.Errorf("HtmlBody: got %q", msg.HtmlBody)
	}
}

func TestParseEncodedHeadersAndBodies(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: =?UTF-8?B?7ZW17Ius?= <news@example.com>",
		"To: me@example.com",
		"Subject: =?UTF-8?B?7ZW17IusIOuJtOyKpA==?=",
		"Content-Type: multipart/alternative; boundary=b1",
		"",
		"--b1",
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=E9 au lait =",
		"soft break",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"Content-Transfer-Encoding: base64",
		"",
		"PHA+SGVsbG8gPGI+d29ybGQ8L2I+PC9wPg==",
		"--b1--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Subject != "핵심 뉴스" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "핵심 뉴스")
	}
	if msg.From != "핵심 <news@example.com>" {
		t.Errorf("From: got %q, want %q", msg.From, "핵심 <news@example.com>")
	}
	if msg.TextBody != "café au lait soft break" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "café au lait soft break")
	}
	if msg.HtmlBody != "<p>Hello <b>world</b></p>" {
		t.Errorf("HtmlBody: got %q, want %q", msg.HtmlBody, "<p>Hello <b>world</b></p>")
	}
}

func TestParseMissingContentType(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: No Content Type",
		"",
		"Body without content type header",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TextBody != "Body without content type header" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Body without content type header")
	}
	if !msg.Date.IsZero() {
		t.Errorf("Date: got %v, want zero without a Date header", msg.Date)
	}
}

func TestParseInvalidHeader(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("not a valid email at all\x00\x01\x02"))
	if err == nil {
		t.Error("expected error for completely invalid message, got nil")
	}
}

func TestParseEmptyAddressFields(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: No recipients",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.To != nil {
		t.Errorf("To: got %v, want nil", msg.To)
	}
	if msg.Cc != nil {
		t.Errorf("Cc: got %v, want nil", msg.Cc)
	}
}

func TestParseRawHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"X-Custom-Header: custom-value",
		"Subject: Headers Test",
		"Content-Type: text/plain",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if vals, ok := msg.RawHeaders["X-Custom-Header"]; !ok || len(vals) == 0 || vals[0] != "custom-value" {
		t.Errorf("X-Custom-Header: got %v, want [custom-value]", vals)
	}
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream; name=\"data.bin\"",
		"Content-Disposition: attachment; filename=\"data.bin\"",
		"",
		"binarydata",
		"--outer",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment",
		"",
		"%PDF",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.TextBody != "Plain text part" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Plain text part")
	}
	if msg.HtmlBody != "<p>HTML part</p>" {
		t.Errorf("HtmlBody: got %q, want %q", msg.HtmlBody, "<p>HTML part</p>")
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("Attachments: got %d, want 2", len(msg.Attachments))
	}
	if msg.Attachments[0].Filename != "data.bin" {
		t.Errorf("Attachment Filename: got %q, want %q", msg.Attachments[0].Filename, "data.bin")
	}
	if string(msg.Attachments[0].Content) != "binarydata" {
		t.Errorf("Attachment Content: got %q, want %q", msg.Attachments[0].Content, "binarydata")
	}
	if msg.Attachments[1].Filename != "attachment.pdf" {
		t.Errorf("Fallback Filename: got %q, want %q", msg.Attachments[1].Filename, "attachment.pdf")
	}
}

func TestParseJoinsTextParts(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: Split body",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: text/plain",
		"",
		"NVDA opened higher.",
		"--outer",
		"Content-Type: text/html",
		"",
		"<p>NVDA opened higher.</p>",
		"--outer",
		"Content-Type: image/png; name=\"chart.png\"",
		"Content-Disposition: inline; filename=\"chart.png\"",
		"",
		"png",
		"--outer",
		"Content-Type: text/plain",
		"",
		"Read more at https://example.com/nvda",
		"--outer",
		"Content-Type: text/html",
		"",
		"<p><a href=\"https://example.com/nvda\">Read more</a></p>",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantText := "NVDA opened higher.\nRead more at https://example.com/nvda"
	if msg.TextBody != wantText {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, wantText)
	}
	wantHTML := "<p>NVDA opened higher.</p>\n<p><a href=\"https://example.com/nvda\">Read more</a></p>"
	if msg.HtmlBody != wantHTML {
		t.Errorf("HtmlBody: got %q, want %q", msg.HtmlBody, wantHTML)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "chart.png" {
		t.Errorf("Attachments: got %+v, want chart.png only", msg.Attachments)
	}
}
