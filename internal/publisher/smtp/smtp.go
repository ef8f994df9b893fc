// Package smtp implements a Publisher that emails summaries through an
// SMTP submission server.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/email"
	"github.com/shineum/newsletter-digest/internal/tlsconf"
)

// TLS modes accepted in config.SMTPConfig.TLSMode.
const (
	ModeTLS      = "tls"
	ModeSTARTTLS = "starttls"
	ModeNone     = "none"
)

// defaultTimeout bounds a whole submission when ctx has no deadline.
const defaultTimeout = 30 * time.Second

// Publisher submits each digest as one message to every recipient.
type Publisher struct {
	cfg        config.SMTPConfig
	recipients []string
	tlsConfig  *tls.Config
}

// New creates a Publisher. The TLS configuration is built up front so a
// bad CA file fails at startup.
func New(cfg config.SMTPConfig, recipients []string) (*Publisher, error) {
	p := &Publisher{
		cfg:        cfg,
		recipients: append([]string(nil), recipients...),
	}
	switch cfg.TLSMode {
	case ModeTLS, ModeSTARTTLS, "":
		tc, err := tlsconf.Client(cfg.Address, cfg.CAFile)
		if err != nil {
			return nil, err
		}
		p.tlsConfig = tc
	case ModeNone:
	default:
		return nil, fmt.Errorf("unknown SMTP TLS mode %q", cfg.TLSMode)
	}
	return p, nil
}

// Name returns the publisher name.
func (p *Publisher) Name() string {
	return config.PublisherSMTP
}

// Publish sends the digest and returns the Message-ID it was sent with.
func (p *Publisher) Publish(ctx context.Context, s *digest.Summary) (string, error) {
	msg := email.FromSummary(s, p.cfg.From, p.recipients)
	msg.MessageID = newMessageID(p.cfg.From)

	raw, err := email.Build(msg)
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	if err := p.send(ctx, msg.To, raw); err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

// send runs one SMTP transaction. Cancelling ctx closes the connection.
func (p *Publisher) send(ctx context.Context, to []string, raw []byte) error {
	c, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if err := c.Mail(p.cfg.From, nil); err != nil {
		return fmt.Errorf("%w: smtp: MAIL FROM failed: %w", digest.ErrAPI, err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("%w: smtp: RCPT TO %q failed: %w", digest.ErrAPI, rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("%w: smtp: DATA failed: %w", digest.ErrAPI, err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("%w: smtp: writing message failed: %w", digest.ErrAPI, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: smtp: finalizing message failed: %w", digest.ErrAPI, err)
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("%w: smtp: QUIT failed: %w", digest.ErrAPI, err)
	}
	return nil
}

// connect dials, upgrades to TLS as configured and authenticates. The
// connection deadline follows ctx.
func (p *Publisher) connect(ctx context.Context) (*gosmtp.Client, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}

	dialer := &net.Dialer{Deadline: deadline}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLSMode == ModeTLS || p.cfg.TLSMode == "" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: p.tlsConfig}).DialContext(ctx, "tcp", p.cfg.Address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: smtp: dial %s: %w", digest.ErrAPI, p.cfg.Address, err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: smtp: %w", digest.ErrAPI, err)
	}

	c := gosmtp.NewClient(conn)
	fail := func(kind error, step string, err error) (*gosmtp.Client, error) {
		c.Close()
		return nil, fmt.Errorf("%w: smtp: %s failed: %w", kind, step, err)
	}

	if p.cfg.TLSMode == ModeSTARTTLS {
		if err := c.StartTLS(p.tlsConfig); err != nil {
			return fail(digest.ErrAPI, "STARTTLS", err)
		}
	}
	if p.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)); err != nil {
			return fail(digest.ErrAuth, "AUTH", err)
		}
	}
	return c, nil
}

// newMessageID returns a unique Message-ID in the sender's domain.
func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.Trim(from[at+1:], "<> ")
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
