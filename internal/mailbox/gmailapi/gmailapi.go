// Package gmailapi implements mailbox.Source on top of the Gmail REST API.
package gmailapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/httplog"
	"github.com/shineum/newsletter-digest/internal/mailbox"
	"github.com/shineum/newsletter-digest/internal/parser"
)

const user = "me"

// Source reads candidates from a Gmail account through the Gmail API.
type Source struct {
	svc        *gmail.Service
	label      string
	maxResults int64

	labelID string
}

// New creates a Source using the stored OAuth token. A missing or unreadable
// token is reported as digest.ErrAuth; run the auth command to create one.
func New(ctx context.Context, cfg config.MailConfig) (*Source, error) {
	oauthCfg, err := OAuthConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", digest.ErrAuth, err)
	}
	token, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", digest.ErrAuth, err)
	}

	svc, err := NewService(ctx, oauthCfg, token, cfg.TokenFile, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return NewWithService(svc, cfg.ProcessedLabel, cfg.MaxResults), nil
}

// NewService builds an authenticated Gmail service. Refreshed tokens are
// written back to tokenFile.
func NewService(ctx context.Context, oauthCfg *oauth2.Config, token *oauth2.Token, tokenFile string, timeout time.Duration) (*gmail.Service, error) {
	base := httplog.Client("gmail", timeout)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	client := oauth2.NewClient(ctx, TokenSource(ctx, oauthCfg, token, tokenFile))
	client.Timeout = timeout

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// NewWithService creates a Source around an existing service.
func NewWithService(svc *gmail.Service, label string, maxResults int64) *Source {
	return &Source{
		svc:        svc,
		label:      label,
		maxResults: maxResults,
	}
}

func (s *Source) Name() string { return config.BackendGmailAPI }

// Search lists messages matching query without the processed label and
// downloads each in raw form. A message that cannot be downloaded or parsed
// is logged and left for the next run.
func (s *Source) Search(ctx context.Context, query string) ([]*digest.Message, error) {
	q := mailbox.ExcludeLabel(query, s.label)
	call := s.svc.Users.Messages.List(user).Q(q).Context(ctx)
	if s.maxResults > 0 {
		call = call.MaxResults(s.maxResults)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, classify(err, "search messages", digest.ErrQuery)
	}

	slog.Debug("gmail search complete", "query", q, "count", len(resp.Messages))

	msgs := make([]*digest.Message, 0, len(resp.Messages))
	for _, ref := range resp.Messages {
		msg, err := s.fetch(ctx, ref.Id)
		if err != nil {
			if errors.Is(err, digest.ErrAuth) {
				return nil, err
			}
			slog.Warn("skipping message", "message_id", ref.Id, "stage", "download", "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s *Source) fetch(ctx context.Context, id string) (*digest.Message, error) {
	full, err := s.svc.Users.Messages.Get(user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, classify(err, "get message", digest.ErrAPI)
	}

	raw, err := decodeRaw(full.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode raw message: %w", err)
	}
	e, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}
	e.Snippet = full.Snippet

	var received time.Time
	if full.InternalDate > 0 {
		received = time.UnixMilli(full.InternalDate)
	}
	return mailbox.FromEmail(full.Id, e, received), nil
}

// MarkProcessed adds the processed label, creating the label on first use.
func (s *Source) MarkProcessed(ctx context.Context, id string) error {
	labelID, err := s.resolveLabel(ctx)
	if err != nil {
		return err
	}

	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}}
	if _, err := s.svc.Users.Messages.Modify(user, id, req).Context(ctx).Do(); err != nil {
		return classify(err, "label message", digest.ErrAPI)
	}
	return nil
}

func (s *Source) resolveLabel(ctx context.Context) (string, error) {
	if s.labelID != "" {
		return s.labelID, nil
	}

	resp, err := s.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return "", classify(err, "list labels", digest.ErrAPI)
	}
	for _, l := range resp.Labels {
		if strings.EqualFold(l.Name, s.label) {
			s.labelID = l.Id
			return s.labelID, nil
		}
	}

	created, err := s.svc.Users.Labels.Create(user, &gmail.Label{
		Name:                  s.label,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", classify(err, "create label", digest.ErrAPI)
	}
	slog.Info("created processed label", "label", s.label, "label_id", created.Id)
	s.labelID = created.Id
	return s.labelID, nil
}

// Profile returns the address of the authenticated account.
func (s *Source) Profile(ctx context.Context) (string, error) {
	p, err := s.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", classify(err, "get profile", digest.ErrAPI)
	}
	return p.EmailAddress, nil
}

// classify maps Gmail API errors to digest error kinds. badRequest is the
// kind a 400 response maps to for this call.
func classify(err error, op string, badRequest error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s: %w", digest.ErrAuth, op, err)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s: %w", badRequest, op, err)
		}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %s: %w", digest.ErrAuth, op, err)
	}
	return fmt.Errorf("%w: %s: %w", digest.ErrAPI, op, err)
}

// decodeRaw decodes the base64url "raw" field, with or without padding.
func decodeRaw(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
