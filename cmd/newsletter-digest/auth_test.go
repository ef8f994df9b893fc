package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const testState = "state-123"

type callbackResult struct {
	token *oauth2.Token
	err   error
}

// startCallback runs exchangeCallback on a loopback listener and returns the
// redirect base URL plus a channel that yields its result.
func startCallback(t *testing.T, ctx context.Context, tokenURL string) (string, <-chan callbackResult) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/o/oauth2/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	done := make(chan callbackResult, 1)
	go func() {
		token, err := exchangeCallback(ctx, cfg, ln, testState, io.Discard)
		done <- callbackResult{token: token, err: err}
	}()
	return "http://" + ln.Addr().String() + "/", done
}

func callback(t *testing.T, base string, params url.Values) int {
	t.Helper()
	resp, err := http.Get(base + "?" + params.Encode())
	if err != nil {
		t.Fatalf("callback request: %v", err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

func waitResult(t *testing.T, done <-chan callbackResult) callbackResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("exchangeCallback did not return")
		return callbackResult{}
	}
}

func TestExchangeCallbackStateMismatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, done := startCallback(t, ctx, "http://127.0.0.1:1/token")

	status := callback(t, base, url.Values{"state": {"forged"}, "code": {"stolen"}})
	if status != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", status, http.StatusBadRequest)
	}

	// A forged callback is ignored; the flow keeps waiting.
	select {
	case r := <-done:
		t.Fatalf("returned early: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	r := waitResult(t, done)
	if !errors.Is(r.err, context.Canceled) {
		t.Errorf("error: got %v, want context.Canceled", r.err)
	}
}

func TestExchangeCallbackDenied(t *testing.T) {
	t.Parallel()

	base, done := startCallback(t, context.Background(), "http://127.0.0.1:1/token")

	status := callback(t, base, url.Values{"state": {testState}, "error": {"access_denied"}})
	if status != http.StatusForbidden {
		t.Errorf("status: got %d, want %d", status, http.StatusForbidden)
	}

	r := waitResult(t, done)
	if r.err == nil || !strings.Contains(r.err.Error(), "access_denied") {
		t.Errorf("error: got %v, want authorization denied: access_denied", r.err)
	}
	if r.token != nil {
		t.Errorf("token: got %+v, want nil", r.token)
	}
}

func TestExchangeCallbackMissingCode(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, done := startCallback(t, ctx, "http://127.0.0.1:1/token")

	status := callback(t, base, url.Values{"state": {testState}})
	if status != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", status, http.StatusBadRequest)
	}

	cancel()
	if r := waitResult(t, done); !errors.Is(r.err, context.Canceled) {
		t.Errorf("error: got %v, want context.Canceled", r.err)
	}
}

func TestExchangeCallbackExchangesCode(t *testing.T) {
	t.Parallel()

	form := make(chan url.Values, 1)
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		form <- r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.test","refresh_token":"1//refresh","token_type":"Bearer","expires_in":3599}`))
	}))
	defer tokens.Close()

	base, done := startCallback(t, context.Background(), tokens.URL)

	status := callback(t, base, url.Values{"state": {testState}, "code": {"4/auth-code"}})
	if status != http.StatusOK {
		t.Errorf("status: got %d, want %d", status, http.StatusOK)
	}

	r := waitResult(t, done)
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r.token.AccessToken != "ya29.test" || r.token.RefreshToken != "1//refresh" {
		t.Errorf("token: got %+v", r.token)
	}

	got := <-form
	if got.Get("grant_type") != "authorization_code" {
		t.Errorf("grant_type: got %q, want authorization_code", got.Get("grant_type"))
	}
	if got.Get("code") != "4/auth-code" {
		t.Errorf("code: got %q, want %q", got.Get("code"), "4/auth-code")
	}
	if got.Get("redirect_uri") != base {
		t.Errorf("redirect_uri: got %q, want %q", got.Get("redirect_uri"), base)
	}
	if got.Get("client_id") != "client-id" {
		t.Errorf("client_id: got %q, want client-id", got.Get("client_id"))
	}
}

func TestExchangeCallbackTokenEndpointError(t *testing.T) {
	t.Parallel()

	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
	}))
	defer tokens.Close()

	base, done := startCallback(t, context.Background(), tokens.URL)
	callback(t, base, url.Values{"state": {testState}, "code": {"expired"}})

	r := waitResult(t, done)
	if r.err == nil || !strings.Contains(r.err.Error(), "failed to exchange authorization code") {
		t.Errorf("error: got %v, want exchange failure", r.err)
	}
}
