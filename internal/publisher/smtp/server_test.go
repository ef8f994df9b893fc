package smtp

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
)

// delivery is one message accepted by fakeServer.
type delivery struct {
	from string
	to   []string
	data string
}

// fakeServer is a minimal SMTP submission server: EHLO, STARTTLS,
// AUTH PLAIN, MAIL, RCPT, DATA, RSET, NOOP and QUIT.
type fakeServer struct {
	ln        net.Listener
	tlsConfig *tls.Config
	username  string
	password  string
	rejectTo  string

	mu         sync.Mutex
	deliveries []delivery
}

func startFakeServer(t *testing.T, ln net.Listener, srv *fakeServer) *fakeServer {
	t.Helper()
	srv.ln = ln
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn)
		}
	}()
	return srv
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) received() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.deliveries...)
}

func (s *fakeServer) handle(conn net.Conn) {
	defer func() { conn.Close() }()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	writeLine := func(format string, args ...any) {
		fmt.Fprintf(w, format+"\r\n", args...)
		w.Flush()
	}

	var (
		authed = s.username == ""
		from   string
		rcpts  []string
	)

	writeLine("220 localhost ESMTP test")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd, arg, _ := strings.Cut(line, " ")

		switch strings.ToUpper(cmd) {
		case "EHLO", "HELO":
			writeLine("250-localhost Hello %s", arg)
			if s.tlsConfig != nil {
				if _, ok := conn.(*tls.Conn); !ok {
					writeLine("250-STARTTLS")
				}
			}
			writeLine("250 AUTH PLAIN")
		case "STARTTLS":
			writeLine("220 Ready to start TLS")
			tlsConn := tls.Server(conn, s.tlsConfig)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn = tlsConn
			r = bufio.NewReader(conn)
			w = bufio.NewWriter(conn)
		case "AUTH":
			mech, encoded, _ := strings.Cut(arg, " ")
			if strings.ToUpper(mech) != "PLAIN" {
				writeLine("504 Unrecognized authentication type")
				continue
			}
			if encoded == "" {
				writeLine("334 ")
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				encoded = strings.TrimRight(l, "\r\n")
			}
			if !s.verifyPlain(encoded) {
				writeLine("535 Authentication failed")
				continue
			}
			authed = true
			writeLine("235 Authentication successful")
		case "MAIL":
			if !authed {
				writeLine("530 Authentication required")
				continue
			}
			_, addr, _ := strings.Cut(arg, ":")
			from = extractAddress(addr)
			rcpts = nil
			writeLine("250 OK")
		case "RCPT":
			_, addr, _ := strings.Cut(arg, ":")
			addr = extractAddress(addr)
			if addr == s.rejectTo {
				writeLine("550 No such user")
				continue
			}
			rcpts = append(rcpts, addr)
			writeLine("250 OK")
		case "DATA":
			writeLine("354 Start mail input; end with <CRLF>.<CRLF>")
			var data strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				trimmed := strings.TrimRight(l, "\r\n")
				if trimmed == "." {
					break
				}
				if strings.HasPrefix(trimmed, "..") {
					l = l[1:]
				}
				data.WriteString(l)
			}
			s.mu.Lock()
			s.deliveries = append(s.deliveries, delivery{from: from, to: rcpts, data: data.String()})
			s.mu.Unlock()
			writeLine("250 OK message queued")
		case "RSET":
			from, rcpts = "", nil
			writeLine("250 OK")
		case "NOOP":
			writeLine("250 OK")
		case "QUIT":
			writeLine("221 Bye")
			return
		default:
			writeLine("500 Unrecognized command")
		}
	}
}

// verifyPlain checks an AUTH PLAIN response: base64(authzid\0user\0pass).
func (s *fakeServer) verifyPlain(encoded string) bool {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	parts := strings.SplitN(string(decoded), "\x00", 3)
	return len(parts) == 3 && parts[1] == s.username && parts[2] == s.password
}

// extractAddress extracts an email address from an SMTP command argument
// like "<user@example.com>" or "<user@example.com> SIZE=100".
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
