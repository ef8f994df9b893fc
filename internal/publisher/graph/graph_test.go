package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shineum/newsletter-digest/internal/config"
	"github.com/shineum/newsletter-digest/internal/digest"
	"github.com/shineum/newsletter-digest/internal/email"
)

var testConfig = config.GraphConfig{
	TenantID:     "tenant",
	ClientID:     "client",
	ClientSecret: "secret",
	Sender:       "digest@contoso.com",
}

func testSummary() *digest.Summary {
	return &digest.Summary{
		MessageID: "18f2a",
		Title:     "Nvidia beats",
		Markdown:  "Nvidia beats | 2025.11.04. 22:22\n\n- record revenue\n",
	}
}

func tokenServer(t *testing.T, status int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type: got %q, want client_credentials", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"bad secret"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewSendMail(t *testing.T) {
	t.Parallel()

	s := &digest.Summary{
		MessageID: "18f2a",
		Title:     "Nvidia beats",
		Markdown:  "# hi",
		Tickers:   []string{"NVDA", "AMD"},
		SourceURL: "https://www.reuters.com/nvda",
	}
	msg := &email.Email{
		To:       []string{"alice@example.com", "bob@example.com"},
		Subject:  "[Digest] Test",
		TextBody: "Hello, World!",
		Attachments: []email.Attachment{
			{Filename: "digest.md", ContentType: "text/markdown", Content: []byte("# hi")},
		},
	}

	req := newSendMail(s, msg)

	if req.Message.Subject != "[Digest] Test" {
		t.Errorf("Subject: got %q, want %q", req.Message.Subject, "[Digest] Test")
	}
	if req.Message.Body.ContentType != "text" {
		t.Errorf("Body.ContentType: got %q, want %q", req.Message.Body.ContentType, "text")
	}
	if len(req.Message.ToRecipients) != 2 {
		t.Fatalf("ToRecipients count: got %d, want 2", len(req.Message.ToRecipients))
	}
	if req.Message.ToRecipients[1].EmailAddress.Address != "bob@example.com" {
		t.Errorf("ToRecipients[1]: got %q", req.Message.ToRecipients[1].EmailAddress.Address)
	}
	if strings.Join(req.Message.Categories, ",") != "NVDA,AMD" {
		t.Errorf("Categories: got %v, want [NVDA AMD]", req.Message.Categories)
	}
	wantHeaders := []messageHeader{
		{Name: "X-Digest-Message-Id", Value: "18f2a"},
		{Name: "X-Digest-Source", Value: "https://www.reuters.com/nvda"},
	}
	if len(req.Message.Headers) != len(wantHeaders) {
		t.Fatalf("Headers: got %+v, want %+v", req.Message.Headers, wantHeaders)
	}
	for i, h := range wantHeaders {
		if req.Message.Headers[i] != h {
			t.Errorf("Headers[%d]: got %+v, want %+v", i, req.Message.Headers[i], h)
		}
	}
	if len(req.Message.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(req.Message.Attachments))
	}
	if att := req.Message.Attachments[0]; att.ODataType != "#microsoft.graph.fileAttachment" {
		t.Errorf("ODataType: got %q", att.ODataType)
	}
	if !req.SaveToSentItems {
		t.Error("SaveToSentItems: got false, want true")
	}

	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `"contentBytes":"` + base64.StdEncoding.EncodeToString([]byte("# hi")) + `"`; !strings.Contains(string(raw), want) {
		t.Errorf("payload: got %s, want it to contain %s", raw, want)
	}
	if !strings.Contains(string(raw), `"internetMessageHeaders":[`) {
		t.Errorf("payload: got %s, want internetMessageHeaders", raw)
	}
}

func TestNewSendMailOmitsEmptyExtras(t *testing.T) {
	t.Parallel()

	req := newSendMail(&digest.Summary{}, &email.Email{To: []string{"a@example.com"}})

	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{"categories", "internetMessageHeaders", "attachments"} {
		if strings.Contains(string(raw), `"`+key+`"`) {
			t.Errorf("payload: got %s, want no %s", raw, key)
		}
	}
}

func TestPublisher_Name(t *testing.T) {
	t.Parallel()

	p := New(testConfig, nil)
	if got := p.Name(); got != "graph" {
		t.Errorf("Name(): got %q, want %q", got, "graph")
	}
}

func TestPublisher_Success(t *testing.T) {
	t.Parallel()

	var tokenCalls, sendCalls atomic.Int32
	tokens := tokenServer(t, http.StatusOK, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCalls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization: got %q, want %q", got, "Bearer tok-1")
		}
		var req sendMail
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Message.Subject != "[Digest] Nvidia beats" {
			t.Errorf("Subject: got %q", req.Message.Subject)
		}
		if len(req.Message.ToRecipients) != 1 || req.Message.ToRecipients[0].EmailAddress.Address != "team@example.com" {
			t.Errorf("ToRecipients: got %+v", req.Message.ToRecipients)
		}
		if !strings.HasPrefix(req.Message.Body.Content, "Nvidia beats | 2025.11.04. 22:22") {
			t.Errorf("Body: got %q", req.Message.Body.Content)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newWithOverrides(testConfig, []string{"team@example.com"}, graphServer.URL, tokens.URL, graphServer.Client())

	for range 2 {
		id, err := p.Publish(context.Background(), testSummary())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "graph:digest@contoso.com" {
			t.Errorf("id: got %q, want %q", id, "graph:digest@contoso.com")
		}
	}

	if got := sendCalls.Load(); got != 2 {
		t.Errorf("send calls: got %d, want 2", got)
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Errorf("token calls: got %d, want 1 (token should be cached)", got)
	}
}

func TestPublisher_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    error
		message string
	}{
		{
			name:    "bad request",
			status:  http.StatusBadRequest,
			body:    `{"error":{"code":"ErrorInvalidRecipients","message":"Invalid recipients"}}`,
			want:    digest.ErrAPI,
			message: "ErrorInvalidRecipients: Invalid recipients",
		},
		{
			name:    "forbidden",
			status:  http.StatusForbidden,
			body:    `{"error":{"code":"ErrorAccessDenied","message":"Access is denied"}}`,
			want:    digest.ErrAuth,
			message: "HTTP 403",
		},
		{
			name:    "server error is not retried",
			status:  http.StatusServiceUnavailable,
			body:    "unavailable",
			want:    digest.ErrAPI,
			message: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var tokenCalls, sendCalls atomic.Int32
			tokens := tokenServer(t, http.StatusOK, &tokenCalls)
			graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sendCalls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer graphServer.Close()

			p := newWithOverrides(testConfig, []string{"team@example.com"}, graphServer.URL, tokens.URL, graphServer.Client())

			_, err := p.Publish(context.Background(), testSummary())
			if !errors.Is(err, tt.want) {
				t.Fatalf("error: got %v, want %v", err, tt.want)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error message: got %q, want to contain %q", err.Error(), tt.message)
			}
			if got := sendCalls.Load(); got != 1 {
				t.Errorf("send calls: got %d, want 1", got)
			}
		})
	}
}

func TestPublisher_TokenFailure(t *testing.T) {
	t.Parallel()

	var tokenCalls, sendCalls atomic.Int32
	tokens := tokenServer(t, http.StatusUnauthorized, &tokenCalls)
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCalls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newWithOverrides(testConfig, []string{"team@example.com"}, graphServer.URL, tokens.URL, graphServer.Client())

	_, err := p.Publish(context.Background(), testSummary())
	if !errors.Is(err, digest.ErrAuth) {
		t.Fatalf("error: got %v, want ErrAuth", err)
	}
	if got := sendCalls.Load(); got != 0 {
		t.Errorf("send calls: got %d, want 0", got)
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, digest.ErrAPI},
		{http.StatusUnauthorized, digest.ErrAuth},
		{http.StatusForbidden, digest.ErrAuth},
		{http.StatusTooManyRequests, digest.ErrAPI},
		{http.StatusInternalServerError, digest.ErrAPI},
	}

	for _, tt := range tests {
		if err := classifyError(tt.status, "x"); !errors.Is(err, tt.want) {
			t.Errorf("classifyError(%d): got %v, want %v", tt.status, err, tt.want)
		}
	}
}
