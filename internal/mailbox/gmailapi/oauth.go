package gmailapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// OAuthConfig reads an OAuth client credentials file downloaded from the
// Google Cloud console. The scope allows reading messages and adding labels.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	return cfg, nil
}

// SaveToken writes token to path with owner-only permissions, creating the
// directory when needed.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return nil
}

// LoadToken reads a token previously written by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var token oauth2.Token
	if err := json.NewDecoder(f).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &token, nil
}

// savingTokenSource persists every refreshed token so the next process
// start does not need a new consent.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu     sync.Mutex
	access string
}

// TokenSource wraps the refreshing token source for cfg and token so that
// new access tokens are written back to path.
func TokenSource(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token, path string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(token, &savingTokenSource{
		base:   cfg.TokenSource(ctx, token),
		path:   path,
		access: token.AccessToken,
	})
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.access {
		s.access = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			slog.Warn("failed to persist refreshed token", "path", s.path, "error", err)
		}
	}
	return tok, nil
}
