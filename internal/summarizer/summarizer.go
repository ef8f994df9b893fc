// Package summarizer defines the interface for LLM backends that turn a
// newsletter into a markdown briefing, and the prompt they share.
package summarizer

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shineum/newsletter-digest/internal/digest"
)

// Summarizer produces markdown for one message.
type Summarizer interface {
	// Summarize returns the model's markdown exactly as received.
	// articleText may be empty.
	Summarize(ctx context.Context, messageText, articleText string) (string, error)
	// Name returns the backend name for logging.
	Name() string
}

// SystemPrompt keeps the model to the supplied text.
const SystemPrompt = "You are a precise financial news editor. " +
	"Use ONLY facts from the user's raw text. " +
	"If the raw text lacks details, say '원문 부족' and summarize only what is given. " +
	"Do NOT fabricate or reuse any prior sample text. " +
	"Output must be valid GitHub-Flavored Markdown whose first line is '<title> | <date>'."

// MinInputLen is the shortest message text worth sending; anything shorter
// tends to make the model echo the template back.
const MinInputLen = 80

// ErrInputTooShort is returned before any API call when the message text is
// shorter than MinInputLen characters.
var ErrInputTooShort = errors.New("raw text too short to summarize")

//go:embed prompt.md
var defaultTemplate string

// Prompt is a user prompt template with {{message}} and {{article}}
// placeholders.
type Prompt struct {
	template string
}

// DefaultPrompt returns the built-in template.
func DefaultPrompt() *Prompt {
	return &Prompt{template: defaultTemplate}
}

// LoadPrompt reads a template from path, or returns the built-in template
// when path is empty.
func LoadPrompt(path string) (*Prompt, error) {
	if path == "" {
		return DefaultPrompt(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, fmt.Errorf("prompt file %s is empty", path)
	}
	return &Prompt{template: string(b)}, nil
}

// Render substitutes the placeholders. A template without {{message}} gets
// the message text appended after a blank line.
func (p *Prompt) Render(messageText, articleText string) string {
	if articleText == "" {
		articleText = "(없음)"
	}
	out := strings.NewReplacer(
		"{{message}}", messageText,
		"{{article}}", articleText,
	).Replace(p.template)
	if !strings.Contains(p.template, "{{message}}") {
		out = strings.TrimRight(out, "\n") + "\n\n" + messageText
	}
	return out
}

// CheckInput rejects message text too short to summarize.
func CheckInput(messageText string) error {
	if n := digest.RuneLen(strings.TrimSpace(messageText)); n < MinInputLen {
		return fmt.Errorf("%w: %d characters", ErrInputTooShort, n)
	}
	return nil
}

// APIError wraps a backend failure as digest.ErrAPI.
func APIError(backend string, err error) error {
	return fmt.Errorf("%w: %s: %w", digest.ErrAPI, backend, err)
}
