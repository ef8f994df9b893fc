package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/mailbox/gmailapi"
)

// authorize runs the installed-app OAuth flow: it listens on a loopback
// port, prints the consent URL and stores the token Google sends back.
func authorize(ctx context.Context, cfg *config.Config, listen string, out io.Writer) error {
	if cfg.Mail.CredentialsFile == "" {
		return errors.New("GOOGLE_CREDENTIALS_FILE is required for the auth command")
	}
	oauthCfg, err := gmailapi.OAuthConfig(cfg.Mail.CredentialsFile)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen for the OAuth callback: %w", err)
	}
	token, err := exchangeCallback(ctx, oauthCfg, ln, uuid.NewString(), out)
	if err != nil {
		return err
	}
	if err := gmailapi.SaveToken(cfg.Mail.TokenFile, token); err != nil {
		return err
	}
	slog.Info("token saved", "path", cfg.Mail.TokenFile)

	svc, err := gmailapi.NewService(ctx, oauthCfg, token, cfg.Mail.TokenFile, cfg.Mail.Timeout)
	if err != nil {
		return err
	}
	address, err := gmailapi.NewWithService(svc, cfg.Mail.ProcessedLabel, cfg.Mail.MaxResults).Profile(ctx)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Authorized as %s. Token saved to %s\n", address, cfg.Mail.TokenFile)
	return nil
}

// exchangeCallback serves the OAuth redirect on ln, prints the consent URL
// to out and exchanges the first code that arrives with the expected state.
// ln is closed on return.
func exchangeCallback(ctx context.Context, oauthCfg *oauth2.Config, ln net.Listener, state string, out io.Writer) (*oauth2.Token, error) {
	oauthCfg.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			case q.Get("error") != "":
				notify(errCh, fmt.Errorf("authorization denied: %s", q.Get("error")))
				http.Error(w, "authorization denied", http.StatusForbidden)
				return
			case q.Get("code") == "":
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			notify(codeCh, q.Get("code"))
			_, _ = fmt.Fprintln(w, "Authorization complete. You can close this window.")
		}),
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			notify(errCh, err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	_, _ = fmt.Fprintf(out, "Open this URL in a browser to authorize Gmail access:\n\n%s\n\n", authURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, fmt.Errorf("OAuth flow failed: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

// notify delivers v unless a value is already waiting; only the first
// callback counts.
func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
