package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/sellerscout/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func testClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key",
		WithBaseURL(srv.URL),
		WithRetryConfig(fastRetry()),
		WithPollConfig(resilience.PollConfig{Interval: time.Millisecond, MaxAttempts: 4}))
}

func TestSearchProducts(t *testing.T) {
	var polls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/search":
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "garden hose", body["keyword"])
			json.NewEncoder(w).Encode(searchTaskResponse{TaskID: "t-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/search/t-1":
			if polls.Add(1) < 3 {
				json.NewEncoder(w).Encode(searchStatusResponse{Status: "pending"})
				return
			}
			json.NewEncoder(w).Encode(searchStatusResponse{
				Status: "completed",
				Items: []ProductListing{
					{ExternalID: "B0001", Category: "Garden", Price: 24.99, Rank: 1200},
					{ExternalID: "B0002", Category: "Garden", Price: 12.50, Rank: 4800},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))

	items, err := c.SearchProducts(context.Background(), "garden hose")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "B0001", items[0].ExternalID)
	assert.Equal(t, 1200, items[0].Rank)
	assert.Equal(t, int32(3), polls.Load())
}

func TestSearchProducts_PollExhaustedIsEmpty(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(searchTaskResponse{TaskID: "t-2"})
			return
		}
		json.NewEncoder(w).Encode(searchStatusResponse{Status: "pending"})
	}))

	items, err := c.SearchProducts(context.Background(), "slow")
	require.NoError(t, err)
	assert.Nil(t, items)
}

func TestSearchProducts_TaskFailure(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(searchTaskResponse{TaskID: "t-3"})
			return
		}
		json.NewEncoder(w).Encode(searchStatusResponse{Status: "failed", Error: "upstream broke"})
	}))

	_, err := c.SearchProducts(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream broke")
}

func TestGetSellers_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(sellersResponse{Sellers: []SellerListing{
			{Name: "Acme Goods", URL: "https://www.shop.example/acme", PlatformFulfilled: false},
		}})
	}))

	sellers, err := c.GetSellers(context.Background(), "B0001")
	require.NoError(t, err)
	require.Len(t, sellers, 1)
	assert.Equal(t, "Acme Goods", sellers[0].Name)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetSellers_PermanentStatusNoRetry(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad id", http.StatusBadRequest)
	}))

	_, err := c.GetSellers(context.Background(), "nope")
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetStorefront(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storefront", r.URL.Path)
		assert.Equal(t, "https://www.shop.example/acme", r.URL.Query().Get("url"))
		json.NewEncoder(w).Encode(StorefrontPage{
			Title:           "Acme Goods",
			Emails:          []string{"sales@acme-goods.com"},
			ExternalDomains: []string{"acme-goods.com"},
		})
	}))

	page, err := c.GetStorefront(context.Background(), "https://www.shop.example/acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Goods", page.Title)
	assert.Equal(t, []string{"sales@acme-goods.com"}, page.Emails)
}

func TestClientLimiterSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sellersResponse{})
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithRetryConfig(fastRetry()),
		WithLimiter(rate.NewLimiter(rate.Every(10*time.Millisecond), 1)))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.GetSellers(context.Background(), "B0001")
		require.NoError(t, err)
	}
	// Burst 1: requests 2 and 3 each wait out a limiter interval.
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
