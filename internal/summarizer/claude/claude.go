// Package claude implements summarizer.Summarizer with the Anthropic
// Messages API.
package claude

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/httplog"
	"github.com/shineum/newsletter-digest/internal/summarizer"
)

const defaultMaxTokens = 2048

// Summarizer calls the Messages API once per message.
type Summarizer struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	prompt    *summarizer.Prompt
}

// New creates a Summarizer with SDK retries disabled.
func New(cfg config.LLMConfig, prompt *summarizer.Prompt, opts ...option.RequestOption) *Summarizer {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.Anthropic.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httplog.Client("anthropic", 0)),
	}
	if cfg.Timeout > 0 {
		base = append(base, option.WithRequestTimeout(cfg.Timeout))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Summarizer{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     anthropic.Model(cfg.Anthropic.Model),
		maxTokens: maxTokens,
		prompt:    prompt,
	}
}

func (s *Summarizer) Name() string { return config.LLMAnthropic }

// Summarize returns the text blocks of the reply joined together, unchanged.
func (s *Summarizer) Summarize(ctx context.Context, messageText, articleText string) (string, error) {
	if err := summarizer.CheckInput(messageText); err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: summarizer.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(s.prompt.Render(messageText, articleText))),
		},
	})
	if err != nil {
		return "", summarizer.APIError("anthropic", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", summarizer.APIError("anthropic", errors.New("no text in response"))
	}

	slog.DebugContext(ctx, "summary generated", "backend", "anthropic", "model", s.model, "elapsed", time.Since(start))
	return b.String(), nil
}
