// Package graph implements a Publisher that emails summaries via the
// Microsoft Graph sendMail API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/email"
	"github.com/shineum/newsletter-digest/internal/httplog"
)

const requestTimeout = 30 * time.Second

// Publisher sends digests from a mailbox in the tenant using OAuth2
// client credentials. Tokens are cached and refreshed by the oauth2
// transport.
type Publisher struct {
	sender     string
	recipients []string
	graphURL   string
	httpClient *http.Client
}

// New creates a new Publisher with the given configuration.
func New(cfg config.GraphConfig, recipients []string) *Publisher {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)
	return newWithOverrides(cfg, recipients, graphURL, tokenURL, httplog.Client("graph", requestTimeout))
}

// newWithOverrides creates a Publisher with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg config.GraphConfig, recipients []string, graphURL, tokenURL string, base *http.Client) *Publisher {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	// The context only carries the base client for token requests; it
	// outlives any single Publish call.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = base.Timeout

	return &Publisher{
		sender:     cfg.Sender,
		recipients: append([]string(nil), recipients...),
		graphURL:   graphURL,
		httpClient: client,
	}
}

// Name returns the publisher name.
func (g *Publisher) Name() string {
	return config.PublisherGraph
}

// Publish sends the digest and returns "graph:<sender>"; sendMail does not
// return a message id.
func (g *Publisher) Publish(ctx context.Context, s *digest.Summary) (string, error) {
	msg := email.FromSummary(s, g.sender, g.recipients)

	bodyJSON, err := json.Marshal(newSendMail(s, msg))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", fmt.Errorf("%w: graph token: %w", digest.ErrAuth, err)
		}
		return "", fmt.Errorf("%w: graph: %w", digest.ErrAPI, err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return "graph:" + g.sender, nil
	}

	body, _ := io.ReadAll(resp.Body)
	message := string(body)
	var apiErr apiError
	if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Code + ": " + apiErr.Error.Message
	}
	return "", classifyError(resp.StatusCode, message)
}

// classifyError maps a sendMail failure onto the digest error kinds.
func classifyError(statusCode int, message string) error {
	kind := digest.ErrAPI
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		kind = digest.ErrAuth
	}
	return fmt.Errorf("%w: graph API error (HTTP %d): %s", kind, statusCode, message)
}
