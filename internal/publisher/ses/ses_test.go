package ses

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/parser"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func testSummary() *digest.Summary {
	return &digest.Summary{
		MessageID: "18f2a",
		Subject:   "NVDA: beats estimates",
		Title:     "📈 Nvidia beats",
		Markdown:  "📈 Nvidia beats | 2025.11.04. 22:22\n\n- record revenue\n",
		SourceURL: "https://seekingalpha.com/news/1",
		CreatedAt: time.Date(2025, 11, 4, 13, 30, 0, 0, time.UTC),
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("sender@example.com", nil, &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	recipients := []string{"a@example.com", "b@example.com"}
	p := NewWithClient("digest@example.com", recipients, mock)
	recipients[0] = "changed@example.com"

	id, err := p.Publish(context.Background(), testSummary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "test-message-id" {
		t.Errorf("id: got %q, want %q", id, "test-message-id")
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if got := aws.ToString(input.FromEmailAddress); got != "digest@example.com" {
		t.Errorf("FromEmailAddress: got %q", got)
	}
	if got := input.Destination.ToAddresses; len(got) != 2 || got[0] != "a@example.com" {
		t.Errorf("ToAddresses: got %v, want [a@example.com b@example.com]", got)
	}
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content, got nil")
	}

	// The raw message must survive a round trip through the MIME parser.
	parsed, err := parser.Parse(input.Content.Raw.Data)
	if err != nil {
		t.Fatalf("raw message does not parse: %v", err)
	}
	if parsed.Subject != "[Digest] 📈 Nvidia beats" {
		t.Errorf("Subject: got %q, want %q", parsed.Subject, "[Digest] 📈 Nvidia beats")
	}
	if !strings.HasPrefix(parsed.TextBody, "📈 Nvidia beats | 2025.11.04. 22:22") {
		t.Errorf("TextBody: got %q", parsed.TextBody)
	}
	if !strings.Contains(parsed.TextBody, "Source: https://seekingalpha.com/news/1") {
		t.Error("TextBody missing source footer")
	}
	if !parsed.Date.Equal(testSummary().CreatedAt) {
		t.Errorf("Date: got %v, want %v", parsed.Date, testSummary().CreatedAt)
	}
	if len(parsed.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(parsed.Attachments))
	}
	if parsed.Attachments[0].Filename != "digest-18f2a.md" {
		t.Errorf("Attachment Filename: got %q", parsed.Attachments[0].Filename)
	}
	if string(parsed.Attachments[0].Content) != testSummary().Markdown {
		t.Errorf("Attachment Content: got %q", parsed.Attachments[0].Content)
	}
}

func TestPublish_ErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	p := NewWithClient("digest@example.com", []string{"a@example.com"}, mock)

	_, err := p.Publish(context.Background(), testSummary())
	if !errors.Is(err, digest.ErrAPI) {
		t.Fatalf("error: got %v, want ErrAPI", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}
