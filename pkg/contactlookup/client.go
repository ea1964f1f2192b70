// Package contactlookup provides a generic client for the premium contact
// resolution providers in the tiered enrichment chain. Each provider speaks
// the same lookup contract and differs only in endpoint, pricing and quota,
// which live in the provider registry.
package contactlookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sellerscout/internal/resilience"
)

// Request identifies a seller for lookup by domain and/or a known email.
type Request struct {
	Domain     string `json:"domain,omitempty"`
	KnownEmail string `json:"known_email,omitempty"`
	Company    string `json:"company,omitempty"`
}

// Candidate is one scored contact returned by a provider.
type Candidate struct {
	Type       string  `json:"type"` // email, phone
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Client performs lookups against one provider endpoint.
type Client interface {
	// Lookup resolves contact candidates for a seller. An empty slice is a
	// valid no-result response.
	Lookup(ctx context.Context, req Request) ([]Candidate, error)
}

// StatusError is a typed non-success response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("contactlookup: %s status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	provider string
	baseURL  string
	apiKey   string
	http     *http.Client
	retry    resilience.RetryConfig
}

// NewClient creates a client for one provider endpoint.
func NewClient(provider, baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		provider: provider,
		baseURL:  baseURL,
		apiKey:   apiKey,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Lookup resolves contact candidates under the shared retry policy.
func (c *httpClient) Lookup(ctx context.Context, req Request) ([]Candidate, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrapf(err, "contactlookup: %s: marshal request", c.provider)
	}

	data, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/lookup", bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrapf(err, "contactlookup: %s: build request", c.provider)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, eris.Wrapf(err, "contactlookup: %s: do request", c.provider)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrapf(err, "contactlookup: %s: read response", c.provider)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{Provider: c.provider, StatusCode: resp.StatusCode, Body: string(raw)}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}

	var parsed lookupResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, eris.Wrapf(err, "contactlookup: %s: decode response", c.provider)
	}
	return parsed.Candidates, nil
}
