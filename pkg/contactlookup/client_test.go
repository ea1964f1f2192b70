package contactlookup

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

	"github.com/sells-group/sellerscout/internal/resilience"
)

func testClient(t *testing.T, provider string, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(provider, srv.URL, "test-key",
		WithRetryConfig(resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		}))
}

func TestLookup(t *testing.T) {
	c := testClient(t, "cheap", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/lookup", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acme-goods.com", req.Domain)
		assert.Equal(t, "Acme Goods", req.Company)

		json.NewEncoder(w).Encode(lookupResponse{Candidates: []Candidate{
			{Type: "email", Value: "ceo@acme-goods.com", Confidence: 0.92},
			{Type: "phone", Value: "512-555-0142", Confidence: 0.61},
		}})
	}))

	candidates, err := c.Lookup(context.Background(), Request{
		Domain:  "acme-goods.com",
		Company: "Acme Goods",
	})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "ceo@acme-goods.com", candidates[0].Value)
	assert.InDelta(t, 0.92, candidates[0].Confidence, 1e-9)
}

func TestLookup_EmptyResult(t *testing.T) {
	c := testClient(t, "cheap", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(lookupResponse{})
	}))

	candidates, err := c.Lookup(context.Background(), Request{Domain: "ghost.example"})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestLookup_StatusErrorNamesProvider(t *testing.T) {
	c := testClient(t, "pricey", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))

	_, err := c.Lookup(context.Background(), Request{Domain: "acme-goods.com"})
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "pricey", statusErr.Provider)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestLookup_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, "cheap", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "oops", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(lookupResponse{Candidates: []Candidate{
			{Type: "email", Value: "ops@acme-goods.com", Confidence: 0.7},
		}})
	}))

	candidates, err := c.Lookup(context.Background(), Request{Domain: "acme-goods.com"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int32(2), calls.Load())
}
