// Package whois provides a client for the WHOIS-style registrant lookup
// provider.
package whois

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sellerscout/internal/resilience"
)

// ErrNoData indicates the provider had no registrant data for the domain.
// Callers record a failed enrichment attempt rather than retrying.
var ErrNoData = eris.New("whois: no registrant data")

// Record is the registrant data returned for a domain.
type Record struct {
	RegistrantName  string `json:"registrant_name,omitempty"`
	RegistrantOrg   string `json:"registrant_org,omitempty"`
	RegistrantEmail string `json:"registrant_email,omitempty"`
	RegistrantPhone string `json:"registrant_phone,omitempty"`
	AdminEmail      string `json:"admin_email,omitempty"`
	AdminPhone      string `json:"admin_phone,omitempty"`
	TechEmail       string `json:"tech_email,omitempty"`
	CreatedDate     string `json:"created_date,omitempty"`
	ExpiresDate     string `json:"expires_date,omitempty"`
}

// Empty reports whether the record carries no contact signal at all.
func (r Record) Empty() bool {
	return r.RegistrantEmail == "" && r.RegistrantPhone == "" &&
		r.AdminEmail == "" && r.AdminPhone == "" && r.TechEmail == "" &&
		r.RegistrantOrg == "" && r.RegistrantName == ""
}

// Client defines the registrant lookup operation.
type Client interface {
	// Lookup fetches registrant data for a domain. Returns ErrNoData when
	// the provider has nothing.
	Lookup(ctx context.Context, domain string) (*Record, error)
}

// StatusError is a typed non-success response from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("whois: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a whois client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.whoisxmlapi.com/v1",
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
	Found  bool   `json:"found"`
	Record Record `json:"record"`
}

// Lookup fetches registrant data for a domain under the shared retry policy.
func (c *httpClient) Lookup(ctx context.Context, domain string) (*Record, error) {
	data, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/whois?domain="+url.QueryEscape(domain), nil)
		if err != nil {
			return nil, eris.Wrap(err, "whois: build request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "whois: do request")
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "whois: read response")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}
		return raw, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "whois: lookup %s", domain)
	}

	var parsed lookupResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, eris.Wrapf(err, "whois: decode response for %s", domain)
	}
	if !parsed.Found || parsed.Record.Empty() {
		return nil, ErrNoData
	}
	return &parsed.Record, nil
}
