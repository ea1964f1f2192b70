package whois

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sellerscout/internal/resilience"
)

func testClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key",
		WithBaseURL(srv.URL),
		WithRetryConfig(resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		}))
}

func TestLookup(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/whois", r.URL.Path)
		assert.Equal(t, "acme-goods.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(lookupResponse{
			Found: true,
			Record: Record{
				RegistrantOrg:   "Acme Goods LLC",
				RegistrantEmail: "owner@acme-goods.com",
				AdminPhone:      "+1 512 555 0142",
			},
		})
	}))

	rec, err := c.Lookup(context.Background(), "acme-goods.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme Goods LLC", rec.RegistrantOrg)
	assert.Equal(t, "owner@acme-goods.com", rec.RegistrantEmail)
}

func TestLookup_NotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(lookupResponse{Found: false})
	}))

	_, err := c.Lookup(context.Background(), "ghost.example")
	assert.True(t, eris.Is(err, ErrNoData))
}

func TestLookup_EmptyRecordIsNoData(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(lookupResponse{Found: true})
	}))

	_, err := c.Lookup(context.Background(), "blank.example")
	assert.True(t, eris.Is(err, ErrNoData))
}

func TestLookup_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(lookupResponse{
			Found:  true,
			Record: Record{RegistrantEmail: "owner@acme-goods.com"},
		})
	}))

	rec, err := c.Lookup(context.Background(), "acme-goods.com")
	require.NoError(t, err)
	assert.Equal(t, "owner@acme-goods.com", rec.RegistrantEmail)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLookup_PermanentStatus(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))

	_, err := c.Lookup(context.Background(), "acme-goods.com")
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRecordEmpty(t *testing.T) {
	assert.True(t, Record{CreatedDate: "2015-01-01"}.Empty())
	assert.False(t, Record{TechEmail: "t@x.com"}.Empty())
	assert.False(t, Record{RegistrantName: "Jo"}.Empty())
}
