// Package gmailimap implements mailbox.Source over Gmail IMAP with an app
// password, using Gmail's X-GM-RAW search and X-GM-LABELS extensions.
package gmailimap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/responses"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/mailbox"
	"github.com/shineum/newsletter-digest/internal/parser"
	"github.com/shineum/newsletter-digest/internal/tlsconf"
)

// DialFunc opens an unauthenticated client connection.
type DialFunc func(addr string, timeout time.Duration) (*client.Client, error)

// Source reads candidates from one IMAP mailbox. Message ids are UIDs in
// that mailbox.
type Source struct {
	addr       string
	username   string
	password   string
	mailbox    string
	label      string
	maxResults int
	timeout    time.Duration
	dial       DialFunc
}

// New creates a Source that connects over implicit TLS.
func New(cfg config.MailConfig) (*Source, error) {
	tlsConfig, err := tlsconf.Client(cfg.IMAPAddress, cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to configure IMAP TLS: %w", err)
	}

	dial := func(addr string, timeout time.Duration) (*client.Client, error) {
		return client.DialWithDialerTLS(&net.Dialer{Timeout: timeout}, addr, tlsConfig)
	}
	return NewWithDialer(cfg, dial), nil
}

// NewWithDialer creates a Source that connects with dial.
func NewWithDialer(cfg config.MailConfig, dial DialFunc) *Source {
	return &Source{
		addr:       cfg.IMAPAddress,
		username:   cfg.Address,
		password:   cfg.AppPassword,
		mailbox:    cfg.Mailbox,
		label:      cfg.ProcessedLabel,
		maxResults: int(cfg.MaxResults),
		timeout:    cfg.Timeout,
		dial:       dial,
	}
}

func (s *Source) Name() string { return config.BackendIMAP }

// connect dials, logs in and selects the mailbox. The caller must log out.
func (s *Source) connect(ctx context.Context, readOnly bool) (*client.Client, error) {
	c, err := s.dial(s.addr, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: IMAP dial failed: %w", digest.ErrAPI, err)
	}
	c.Timeout = s.timeout

	// go-imap v1 has no context support; closing the connection unblocks
	// any pending command when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	go func() {
		<-c.LoggedOut()
		stop()
	}()

	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: IMAP login failed: %w", digest.ErrAuth, err)
	}
	if _, err := c.Select(s.mailbox, readOnly); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: select %s: %w", digest.ErrAPI, s.mailbox, err)
	}
	return c, nil
}

// Search runs query through X-GM-RAW, excluding the processed label, and
// downloads at most maxResults of the newest matches, newest first.
func (s *Source) Search(ctx context.Context, query string) ([]*digest.Message, error) {
	c, err := s.connect(ctx, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Logout() }()

	q := mailbox.ExcludeLabel(query, s.label)
	uids, err := search(c, q)
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if s.maxResults > 0 && len(uids) > s.maxResults {
		uids = uids[:s.maxResults]
	}
	slog.Debug("imap search complete", "query", q, "count", len(uids))

	return fetch(c, uids)
}

func search(c *client.Client, query string) ([]uint32, error) {
	cmd := &gmailSearch{Query: query}
	resp := &responses.Search{}
	status, err := c.Execute(cmd, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: imap search: %w", digest.ErrAPI, err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("%w: imap search %q: %w", digest.ErrQuery, query, err)
	}
	return resp.Ids, nil
}

// fetch downloads the full messages for uids, keeping the order of uids.
// Messages that fail to parse are logged and skipped.
func fetch(c *client.Client, uids []uint32) ([]*digest.Message, error) {
	if len(uids) == 0 {
		return []*digest.Message{}, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	fetched := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, fetched)
	}()

	byUID := make(map[uint32]*digest.Message, len(uids))
	for m := range fetched {
		msg, err := convert(m, section)
		if err != nil {
			slog.Warn("skipping message", "message_id", m.Uid, "stage", "download", "error", err)
			continue
		}
		byUID[m.Uid] = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: imap fetch: %w", digest.ErrAPI, err)
	}

	msgs := make([]*digest.Message, 0, len(byUID))
	for _, uid := range uids {
		if msg, ok := byUID[uid]; ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func convert(m *imap.Message, section *imap.BodySectionName) (*digest.Message, error) {
	literal := m.GetBody(section)
	if literal == nil {
		return nil, errors.New("server returned no message body")
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil, fmt.Errorf("reading fetched body failed: %w", err)
	}
	e, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}
	return mailbox.FromEmail(strconv.FormatUint(uint64(m.Uid), 10), e, m.InternalDate), nil
}

// MarkProcessed adds the processed label to the message with the given UID.
func (s *Source) MarkProcessed(ctx context.Context, id string) error {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid IMAP message id %q: %w", id, err)
	}

	c, err := s.connect(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uint32(uid))
	status, err := c.Execute(&gmailStoreLabels{SeqSet: seqSet, Labels: []string{s.label}}, nil)
	if err == nil {
		err = status.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: add label %q: %w", digest.ErrAPI, s.label, err)
	}
	return nil
}

// gmailSearch is UID SEARCH with a Gmail search expression.
type gmailSearch struct {
	Query string
}

func (s *gmailSearch) Command() *imap.Command {
	return &imap.Command{
		Name:      "UID SEARCH",
		Arguments: []any{imap.RawString("X-GM-RAW " + quote(s.Query))},
	}
}

// gmailStoreLabels adds Gmail labels to messages by UID.
type gmailStoreLabels struct {
	SeqSet *imap.SeqSet
	Labels []string
}

func (s *gmailStoreLabels) Command() *imap.Command {
	quoted := make([]string, 0, len(s.Labels))
	for _, label := range s.Labels {
		quoted = append(quoted, quote(label))
	}
	return &imap.Command{
		Name:      "UID STORE",
		Arguments: []any{s.SeqSet, imap.RawString("+X-GM-LABELS"), imap.RawString("(" + strings.Join(quoted, " ") + ")")},
	}
}

// quote renders s as an IMAP quoted string.
func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
