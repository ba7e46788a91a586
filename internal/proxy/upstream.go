package proxy

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Upstream is the API the relay forwards to.
type Upstream struct {
	Name    string
	BaseURL string
	// APIKey replaces the client's credentials when set.
	APIKey string
	// AuthStyle is "x-api-key" or "bearer".
	AuthStyle string
}

// Request is an inbound call to be forwarded. Body is kept in memory so every
// retry sends the same bytes.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
	"Host",
	// Compressed streams could not be scanned.
	"Accept-Encoding",
}

func (u Upstream) url(r Request) (string, error) {
	base, err := url.Parse(strings.TrimRight(u.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	base.Path += r.Path
	base.RawQuery = r.RawQuery
	return base.String(), nil
}

func (u Upstream) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	target, err := u.url(r)
	if err != nil {
		return nil, err
	}
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	if u.APIKey != "" {
		req.Header.Del("Authorization")
		req.Header.Del("X-Api-Key")
		if u.AuthStyle == "bearer" {
			req.Header.Set("Authorization", "Bearer "+u.APIKey)
		} else {
			req.Header.Set("X-Api-Key", u.APIKey)
		}
	}
	return req, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		switch http.CanonicalHeaderKey(k) {
		case "Content-Length", "Connection", "Transfer-Encoding", "Keep-Alive":
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}
