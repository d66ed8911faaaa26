package mcp

import (
	"context"
	"net/http"
)

type headersKey struct{}

// withHeaders attaches headers to every HTTP request made under ctx.
func withHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return context.WithValue(ctx, headersKey{}, headers)
}

// headerTransport adds the configured static headers to every request and
// the per-call headers found in the request context.
type headerTransport struct {
	base   http.RoundTripper
	static map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	extra, _ := req.Context().Value(headersKey{}).(map[string]string)
	if len(t.static) == 0 && len(extra) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.static {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
