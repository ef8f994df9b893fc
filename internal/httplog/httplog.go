// Package httplog provides an http.RoundTripper that records outbound
// API calls at debug level.
package httplog

import (
	"log/slog"
	"net/http"
	"time"
)

// Transport logs method, URL, status and latency of each request through
// slog at debug level. Request bodies are never logged since they carry
// message content and credentials.
type Transport struct {
	Base   http.RoundTripper
	Name   string
	Logger *slog.Logger
}

// Wrap returns base wrapped in a Transport tagged with name.
func Wrap(base http.RoundTripper, name string) http.RoundTripper {
	return &Transport{Base: base, Name: name}
}

// Client returns an http.Client with the given timeout whose transport logs
// through a Transport tagged with name.
func Client(name string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: Wrap(nil, name),
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := t.Base
	if rt == nil {
		rt = http.DefaultTransport
	}

	start := time.Now()
	ctx := req.Context()
	logger.DebugContext(ctx, "http request",
		"client", t.Name,
		"method", req.Method,
		"url", redact(req),
	)

	resp, err := rt.RoundTrip(req)
	if err != nil {
		logger.DebugContext(ctx, "http request failed",
			"client", t.Name,
			"error", err,
			"elapsed", time.Since(start),
		)
		return resp, err
	}

	logger.DebugContext(ctx, "http response",
		"client", t.Name,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)
	return resp, nil
}

// redact drops the query string, which may carry API keys or search terms.
func redact(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
