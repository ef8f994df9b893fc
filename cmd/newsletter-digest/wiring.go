package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/newsletter-digest/internal/article"
	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/mailbox"
	"github.com/shineum/newsletter-digest/internal/mailbox/gmailapi"
	"github.com/shineum/newsletter-digest/internal/mailbox/gmailimap"
	"github.com/shineum/newsletter-digest/internal/pipeline"
	"github.com/shineum/newsletter-digest/internal/poller"
	"github.com/shineum/newsletter-digest/internal/publisher"
	"github.com/shineum/newsletter-digest/internal/publisher/graph"
	"github.com/shineum/newsletter-digest/internal/publisher/markdown"
	"github.com/shineum/newsletter-digest/internal/publisher/notion"
	"github.com/shineum/newsletter-digest/internal/publisher/ses"
	"github.com/shineum/newsletter-digest/internal/publisher/smtp"
	"github.com/shineum/newsletter-digest/internal/publisher/stdout"
	"github.com/shineum/newsletter-digest/internal/summarizer"
	"github.com/shineum/newsletter-digest/internal/summarizer/claude"
	"github.com/shineum/newsletter-digest/internal/summarizer/gpt"
)

// runOnce processes the current candidates a single time.
func runOnce(ctx context.Context, cfg *config.Config) error {
	runner, err := newRunner(ctx, cfg)
	if err != nil {
		return err
	}
	_, err = runner.RunOnce(ctx)
	return err
}

// poll runs the pipeline on cfg.Poller.Interval until ctx is cancelled.
func poll(ctx context.Context, cfg *config.Config) error {
	runner, err := newRunner(ctx, cfg)
	if err != nil {
		return err
	}

	p := poller.New(func(ctx context.Context) error {
		_, err := runner.RunOnce(ctx)
		return err
	}, cfg.Poller.Interval)

	slog.Info("starting newsletter-digest",
		"interval", cfg.Poller.Interval.String(),
		"mail_backend", cfg.Mail.Backend,
		"llm_provider", cfg.LLM.Provider,
		"publishers", cfg.Digest.Publishers,
	)
	p.Start(ctx)
	slog.Info("newsletter-digest stopped")
	return nil
}

// newRunner builds every stage from cfg.
func newRunner(ctx context.Context, cfg *config.Config) (*pipeline.Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	src, err := selectSource(ctx, cfg)
	if err != nil {
		slog.Error("failed to open mailbox", "backend", cfg.Mail.Backend, "error", err)
		return nil, err
	}

	sum, err := selectSummarizer(cfg)
	if err != nil {
		slog.Error("failed to set up summarizer", "provider", cfg.LLM.Provider, "error", err)
		return nil, err
	}

	pub, err := selectPublisher(ctx, cfg, loc)
	if err != nil {
		slog.Error("failed to set up publishers", "error", err)
		return nil, err
	}

	slog.Debug("pipeline ready",
		"source", src.Name(),
		"summarizer", sum.Name(),
		"publisher", pub.Name(),
	)

	return pipeline.New(src, article.New(cfg.Article), sum, pub, pipeline.Options{
		Query:          cfg.Mail.Query,
		MinBodyLen:     cfg.Article.MinBodyLen,
		MaxLinks:       cfg.Article.MaxLinks,
		MessageTimeout: cfg.Poller.MessageTimeout,
		RunTimeout:     cfg.Poller.RunTimeout,
		AllowedTickers: cfg.Digest.AllowedTickers,
		Location:       loc,
	}), nil
}

// selectSource opens the configured mailbox backend.
func selectSource(ctx context.Context, cfg *config.Config) (mailbox.Source, error) {
	switch cfg.Mail.Backend {
	case config.BackendIMAP:
		return gmailimap.New(cfg.Mail)
	default:
		return gmailapi.New(ctx, cfg.Mail)
	}
}

// selectSummarizer picks the LLM backend and loads the prompt template.
func selectSummarizer(cfg *config.Config) (summarizer.Summarizer, error) {
	prompt, err := summarizer.LoadPrompt(cfg.LLM.PromptFile)
	if err != nil {
		return nil, err
	}

	switch cfg.LLM.Provider {
	case config.LLMAnthropic:
		return claude.New(cfg.LLM, prompt), nil
	default:
		return gpt.New(cfg.LLM, prompt), nil
	}
}

// selectPublisher builds every publisher named in cfg.Digest.Publishers, in
// order. Validate has already checked that each one is configured.
func selectPublisher(ctx context.Context, cfg *config.Config, loc *time.Location) (publisher.Publisher, error) {
	recipients := cfg.Digest.Recipients

	var multi publisher.Multi
	for _, name := range cfg.Digest.Publishers {
		var (
			p   publisher.Publisher
			err error
		)
		switch name {
		case config.PublisherNotion:
			p = notion.New(cfg.Notion)
		case config.PublisherMarkdown:
			p = markdown.New(cfg.Output.Dir)
		case config.PublisherStdout:
			p = stdout.New(loc)
		case config.PublisherSES:
			p, err = ses.New(ctx, cfg.SES, recipients)
		case config.PublisherGraph:
			p = graph.New(cfg.Graph, recipients)
		case config.PublisherSMTP:
			p, err = smtp.New(cfg.SMTP, recipients)
		default:
			err = fmt.Errorf("unknown publisher %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("%s publisher: %w", name, err)
		}
		multi = append(multi, p)
	}

	if len(multi) == 1 {
		return multi[0], nil
	}
	return multi, nil
}
