// Package marketdata provides a client for the product/seller/storefront
// data provider. All calls go through the shared retry policy; the async
// keyword search uses the bounded poll loop.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/sellerscout/internal/resilience"
)

// Client defines the marketplace data operations used by the pipeline.
type Client interface {
	// SearchProducts starts an async keyword search and polls it to
	// completion, returning the ranked item list.
	SearchProducts(ctx context.Context, keyword string) ([]ProductListing, error)
	// GetSellers returns the sellers behind a product, including the
	// platform's own fulfillment entries (callers filter those).
	GetSellers(ctx context.Context, productExternalID string) ([]SellerListing, error)
	// GetStorefront fetches a seller's rendered storefront page and its
	// extracted metadata.
	GetStorefront(ctx context.Context, sellerURL string) (*StorefrontPage, error)
}

// ProductListing is one ranked item from a keyword search.
type ProductListing struct {
	ExternalID string  `json:"external_id"`
	Category   string  `json:"category"`
	Price      float64 `json:"price"`
	Rank       int     `json:"rank"`
}

// SellerListing is one seller candidate behind a product.
type SellerListing struct {
	Name              string   `json:"name"`
	URL               string   `json:"url"`
	Rating            *float64 `json:"rating,omitempty"`
	ListingsCount     *int     `json:"listings_count,omitempty"`
	PlatformFulfilled bool     `json:"platform_fulfilled"`
}

// StorefrontPage is the rendered content and metadata of a seller profile
// page.
type StorefrontPage struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Keywords        []string `json:"keywords"`
	Emails          []string `json:"emails"`
	Phones          []string `json:"phones"`
	ExternalDomains []string `json:"external_domains"`
	HTML            string   `json:"html,omitempty"`
}

// StatusError is a typed non-success response from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marketdata: status %d: %s", e.StatusCode, e.Body)
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

// WithPollConfig overrides the async-search poll parameters.
func WithPollConfig(cfg resilience.PollConfig) Option {
	return func(c *httpClient) { c.poll = cfg }
}

// WithLimiter overrides the outbound request limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) { c.limiter = l }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
	poll    resilience.PollConfig
	limiter *rate.Limiter
}

// NewClient creates a marketdata client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.marketdata.example.com/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
		poll: resilience.PollConfig{
			Interval:    8 * time.Second,
			MaxAttempts: 10,
		},
		// Provider terms allow 5 req/s sustained.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doJSON performs one HTTP call under the retry policy and decodes the
// response into out. Non-success statuses become StatusError, wrapped as
// transient when the status warrants a retry.
func (c *httpClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marketdata: marshal request")
		}
	}

	data, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "marketdata: rate limit wait")
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, eris.Wrap(err, "marketdata: build request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "marketdata: do request")
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "marketdata: read response")
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
		return err
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "marketdata: decode response")
		}
	}
	return nil
}

type searchTaskResponse struct {
	TaskID string `json:"task_id"`
}

type searchStatusResponse struct {
	Status string           `json:"status"` // pending, completed, failed
	Error  string           `json:"error,omitempty"`
	Items  []ProductListing `json:"items,omitempty"`
}

// SearchProducts starts an async keyword search and polls until the task
// completes or the attempt cap is hit, in which case the search is treated
// as empty.
func (c *httpClient) SearchProducts(ctx context.Context, keyword string) ([]ProductListing, error) {
	var task searchTaskResponse
	err := c.doJSON(ctx, http.MethodPost, "/search", map[string]string{"keyword": keyword}, &task)
	if err != nil {
		return nil, eris.Wrapf(err, "marketdata: start search %q", keyword)
	}
	if task.TaskID == "" {
		return nil, eris.Errorf("marketdata: search %q returned no task id", keyword)
	}

	var items []ProductListing
	err = resilience.Poll(ctx, c.poll, func(ctx context.Context) (bool, error) {
		var status searchStatusResponse
		if err := c.doJSON(ctx, http.MethodGet, "/search/"+url.PathEscape(task.TaskID), nil, &status); err != nil {
			return false, eris.Wrapf(err, "marketdata: poll search %s", task.TaskID)
		}
		switch status.Status {
		case "completed":
			items = status.Items
			return true, nil
		case "failed":
			return false, eris.Errorf("marketdata: search %s failed: %s", task.TaskID, status.Error)
		}
		return false, nil
	})
	if err != nil {
		if eris.Is(err, resilience.ErrPollExhausted) {
			// Hard wall-clock ceiling reached: treat as empty, not fatal.
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

type sellersResponse struct {
	Sellers []SellerListing `json:"sellers"`
}

// GetSellers returns the sellers behind a product.
func (c *httpClient) GetSellers(ctx context.Context, productExternalID string) ([]SellerListing, error) {
	var resp sellersResponse
	err := c.doJSON(ctx, http.MethodGet, "/products/"+url.PathEscape(productExternalID)+"/sellers", nil, &resp)
	if err != nil {
		return nil, eris.Wrapf(err, "marketdata: get sellers for %s", productExternalID)
	}
	return resp.Sellers, nil
}

// GetStorefront fetches a seller storefront page.
func (c *httpClient) GetStorefront(ctx context.Context, sellerURL string) (*StorefrontPage, error) {
	var page StorefrontPage
	err := c.doJSON(ctx, http.MethodGet, "/storefront?url="+url.QueryEscape(sellerURL), nil, &page)
	if err != nil {
		return nil, eris.Wrapf(err, "marketdata: get storefront %s", sellerURL)
	}
	return &page, nil
}
