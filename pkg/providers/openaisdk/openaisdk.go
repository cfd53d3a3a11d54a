// Package openaisdk builds go-openai clients that carry the same base URL and
// attribution headers as the chat adapter.
package openaisdk

import (
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// HeaderTransport sets fixed headers on every outgoing request.
type HeaderTransport struct {
	Base    http.RoundTripper
	Headers map[string]string
}

// RoundTrip implements http.RoundTripper. The request is cloned before
// headers are added.
func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	if len(t.Headers) == 0 {
		return base.RoundTrip(req)
	}

	r := req.Clone(req.Context())
	for k, v := range t.Headers {
		r.Header.Set(k, v)
	}

	return base.RoundTrip(r)
}

// NewClient returns a go-openai client for baseURL. A nil hc uses a client
// without timeout; callers bound calls with their context.
func NewClient(apiKey, baseURL string, headers map[string]string, hc *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	client := &http.Client{}
	if hc != nil {
		*client = *hc
	}
	client.Transport = &HeaderTransport{Base: client.Transport, Headers: headers}
	cfg.HTTPClient = client

	return openai.NewClientWithConfig(cfg)
}
