// Package gpt implements summarizer.Summarizer with the OpenAI Chat
// Completions API or any endpoint compatible with it.
package gpt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/httplog"
	"github.com/shineum/newsletter-digest/internal/summarizer"
)

// Summarizer calls the chat completions endpoint once per message.
type Summarizer struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int64
	prompt    *summarizer.Prompt
}

// New creates a Summarizer. SDK retries are disabled; a failed call is
// retried on the next poll instead.
func New(cfg config.LLMConfig, prompt *summarizer.Prompt) *Summarizer {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAI.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httplog.Client("openai", 0)),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Summarizer{
		client:    openai.NewClient(opts...),
		model:     cfg.OpenAI.Model,
		maxTokens: cfg.MaxTokens,
		prompt:    prompt,
	}
}

func (s *Summarizer) Name() string { return config.LLMOpenAI }

// Summarize sends the system prompt, the rendered template and returns the
// first choice unchanged.
func (s *Summarizer) Summarize(ctx context.Context, messageText, articleText string) (string, error) {
	if err := summarizer.CheckInput(messageText); err != nil {
		return "", err
	}

	params := openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarizer.SystemPrompt),
			openai.UserMessage(s.prompt.Render(messageText, articleText)),
		},
	}
	if s.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(s.maxTokens)
	}

	start := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", summarizer.APIError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", summarizer.APIError("openai", errors.New("no choices in response"))
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", summarizer.APIError("openai", errors.New("empty completion"))
	}

	slog.DebugContext(ctx, "summary generated", "backend", "openai", "model", s.model, "elapsed", time.Since(start))
	return content, nil
}
