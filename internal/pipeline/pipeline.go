// Package pipeline runs one pass of the digester: search the mailbox, then
// fetch, summarize, publish and label each candidate in turn.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/mailbox"
	"github.com/shineum/newsletter-digest/internal/publisher"
	"github.com/shineum/newsletter-digest/internal/summarizer"
)

// Fetcher retrieves the article behind a link. *article.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*digest.Article, error)
}

// Options tune a Runner. Zero values fall back to the defaults below.
type Options struct {
	Query          string
	MinBodyLen     int
	MaxLinks       int
	MessageTimeout time.Duration
	RunTimeout     time.Duration
	AllowedTickers []string
	Location       *time.Location
}

const (
	defaultMinBodyLen     = 120
	defaultMaxLinks       = 3
	defaultMessageTimeout = 60 * time.Second
	defaultRunTimeout     = 180 * time.Second
)

// Report counts what one run did with its candidates.
type Report struct {
	RunID      string
	Candidates int
	Published  int
	Filtered   int
	Failed     int
	// Skipped candidates were never started because the run budget ran out.
	Skipped int
}

// Runner wires the stages together. It holds no state between runs; the
// processed label is the only record of what has been handled.
type Runner struct {
	source     mailbox.Source
	fetcher    Fetcher
	summarizer summarizer.Summarizer
	publisher  publisher.Publisher
	opts       Options
	now        func() time.Time
}

// New creates a Runner. fetcher may be nil to disable article fetching.
func New(src mailbox.Source, fetcher Fetcher, sum summarizer.Summarizer, pub publisher.Publisher, opts Options) *Runner {
	if opts.MinBodyLen <= 0 {
		opts.MinBodyLen = defaultMinBodyLen
	}
	if opts.MaxLinks <= 0 {
		opts.MaxLinks = defaultMaxLinks
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = defaultMessageTimeout
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Runner{
		source:     src,
		fetcher:    fetcher,
		summarizer: sum,
		publisher:  pub,
		opts:       opts,
		now:        time.Now,
	}
}

type outcome int

const (
	published outcome = iota
	filtered
)

// RunOnce processes every candidate the search returns, in order. A failing
// candidate is logged and left unlabeled so the next run retries it; only
// a failed search makes RunOnce return an error.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := slog.With("run_id", report.RunID)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.opts.RunTimeout)
	defer cancel()

	logger.InfoContext(ctx, "run started", "source", r.source.Name(), "query", r.opts.Query)

	msgs, err := r.source.Search(ctx, r.opts.Query)
	if err != nil {
		logger.ErrorContext(ctx, "search failed", "error", err, "kind", digest.Kind(err))
		return report, fmt.Errorf("search: %w", err)
	}
	report.Candidates = len(msgs)

	for i, m := range msgs {
		if ctx.Err() != nil {
			report.Skipped = len(msgs) - i
			logger.WarnContext(ctx, "run budget exhausted, leaving candidates for the next poll",
				"remaining", report.Skipped,
			)
			break
		}

		mlog := logger.With("message_id", m.ID)
		res, err := r.process(ctx, mlog, m)
		switch {
		case err != nil:
			report.Failed++
			var se *stageError
			stage := ""
			if errors.As(err, &se) {
				stage = se.stage
			}
			mlog.WarnContext(ctx, "message skipped",
				"stage", stage,
				"kind", digest.Kind(err),
				"error", err,
			)
		case res == filtered:
			report.Filtered++
		default:
			report.Published++
		}
	}

	logger.InfoContext(ctx, "run finished",
		"candidates", report.Candidates,
		"published", report.Published,
		"filtered", report.Filtered,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return report, nil
}

// stageError records which step a message failed in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func fail(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

func (r *Runner) process(ctx context.Context, logger *slog.Logger, m *digest.Message) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.MessageTimeout)
	defer cancel()

	logger.InfoContext(ctx, "processing message", "subject", m.Subject, "from", m.From)

	tickers := digest.TickersFromSubject(m.Subject)
	if len(r.opts.AllowedTickers) > 0 {
		tickers = digest.FilterTickers(tickers, r.opts.AllowedTickers)
		if len(tickers) == 0 {
			if err := r.source.MarkProcessed(ctx, m.ID); err != nil {
				return 0, fail("label", err)
			}
			logger.InfoContext(ctx, "message filtered, no allowed ticker in subject")
			return filtered, nil
		}
	}

	art := r.fetchArticle(ctx, logger, m)

	var publishedAt time.Time
	articleText := ""
	sourceURL := m.Link()
	if art != nil {
		publishedAt = art.PublishedAt
		articleText = fmt.Sprintf("[링크 기사] %s\n\n%s", art.URL, art.Text)
		sourceURL = art.URL
	}
	date, dateSource := digest.ChooseDate(publishedAt, m.HeaderDate, m.ReceivedAt)

	md, err := r.summarizer.Summarize(ctx, Compose(m, date, dateSource, r.opts.Location), articleText)
	if err != nil {
		return 0, fail("summarize", err)
	}

	summary := &digest.Summary{
		MessageID:  m.ID,
		Subject:    m.Subject,
		Title:      digest.TitleFromMarkdown(md),
		Markdown:   md,
		Date:       date,
		DateSource: dateSource,
		Tickers:    tickers,
		SourceURL:  sourceURL,
		CreatedAt:  r.now(),
	}

	id, err := r.publisher.Publish(ctx, summary)
	if err != nil {
		return 0, fail("publish", err)
	}

	if err := r.source.MarkProcessed(ctx, m.ID); err != nil {
		// Publishing is not idempotent: this message will be published
		// again on the next poll.
		logger.ErrorContext(ctx, "published but not labeled, expect a duplicate on the next poll",
			"published_id", id,
			"error", err,
		)
		return 0, fail("label", err)
	}

	logger.InfoContext(ctx, "message published",
		"published_id", id,
		"title", summary.Title,
		"date_source", string(dateSource),
		"tickers", strings.Join(tickers, ","),
	)
	return published, nil
}

// fetchArticle enriches short messages with the first linked page that
// yields readable content. Failures are logged and never fail the message.
func (r *Runner) fetchArticle(ctx context.Context, logger *slog.Logger, m *digest.Message) *digest.Article {
	if r.fetcher == nil || len(m.Links) == 0 {
		return nil
	}
	if digest.RuneLen(strings.TrimSpace(m.Body)) >= r.opts.MinBodyLen {
		return nil
	}

	links := m.Links
	if len(links) > r.opts.MaxLinks {
		links = links[:r.opts.MaxLinks]
	}
	for _, u := range links {
		if ctx.Err() != nil {
			return nil
		}
		art, err := r.fetcher.Fetch(ctx, u)
		if err != nil {
			logger.DebugContext(ctx, "article fetch failed", "url", u, "error", err)
			continue
		}
		logger.InfoContext(ctx, "article fetched", "url", art.URL, "title", art.Title)
		return art
	}
	return nil
}

// Compose builds the text handed to the summarizer: a header line naming
// the detected date and where it came from, the subject and sender, then
// the body.
func Compose(m *digest.Message, date time.Time, src digest.DateSource, loc *time.Location) string {
	shown := digest.FormatDate(date, loc)
	if shown == "" {
		shown = "미확인"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[DETECTED_DATE:%s|SOURCE:%s]\n", shown, src)
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	fmt.Fprintf(&b, "From: %s\n\n", m.From)
	b.WriteString(m.Body)
	return b.String()
}
