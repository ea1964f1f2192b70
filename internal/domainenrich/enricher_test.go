package domainenrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/sellerscout/internal/model"
	"github.com/sells-group/sellerscout/internal/store"
	"github.com/sells-group/sellerscout/pkg/whois"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeWhois serves canned records per domain. Lookups may arrive
// concurrently within a chunk.
type fakeWhois struct {
	mu      sync.Mutex
	records map[string]*whois.Record
	err     error
	calls   []string
}

func (f *fakeWhois) Lookup(_ context.Context, domain string) (*whois.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, domain)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[domain]
	if !ok {
		return nil, whois.ErrNoData
	}
	return rec, nil
}

// gateWhois holds every lookup at a barrier until the test releases them.
type gateWhois struct {
	entered chan string
	release chan struct{}
}

func (g *gateWhois) Lookup(_ context.Context, domain string) (*whois.Record, error) {
	g.entered <- domain
	<-g.release
	return nil, whois.ErrNoData
}

// fakeClock records sleeps without waiting.
type fakeClock struct {
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return nil
}

// fakeStore implements the slice of store.Store the enricher touches.
type fakeStore struct {
	store.Store

	mu         sync.Mutex
	candidates []string
	attempts   map[string]bool // domain -> succeeded
	records    map[string]model.DomainRecord
	sellers    map[string][]int64
	contacts   []model.Contact
	runs       []model.PipelineRun
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attempts: make(map[string]bool),
		records:  make(map[string]model.DomainRecord),
		sellers:  make(map[string][]int64),
	}
}

func (f *fakeStore) ListCandidateDomains(_ context.Context, limit int) ([]string, error) {
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeStore) RecordDomainAttempt(_ context.Context, domain string, succeeded bool, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.attempts[domain]; !ok {
		f.attempts[domain] = succeeded
	}
	return nil
}

func (f *fakeStore) UpsertDomainRecord(_ context.Context, rec model.DomainRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.Domain] = rec
	return nil
}

func (f *fakeStore) SellersForDomain(_ context.Context, domain string) ([]int64, error) {
	return f.sellers[domain], nil
}

func (f *fakeStore) UpsertContacts(_ context.Context, contacts []model.Contact) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, contacts...)
	return int64(len(contacts)), nil
}

func (f *fakeStore) RecordRun(_ context.Context, run model.PipelineRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func testEnricher(st *fakeStore, client whois.Client, clock *fakeClock) *Enricher {
	return New(st, client, Config{ChunkSize: 2, ChunkDelay: 2 * time.Second, LookupCost: 0.001},
		WithClock(clock),
		WithNow(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }))
}

func TestEnrichDomain_HitDerivesContacts(t *testing.T) {
	st := newFakeStore()
	st.sellers["acme.com"] = []int64{4, 9}
	client := &fakeWhois{records: map[string]*whois.Record{
		"acme.com": {
			RegistrantOrg:   "ACME GOODS LLC",
			RegistrantEmail: "Owner@Acme.com",
			RegistrantPhone: "+1 512 555 0142",
			AdminEmail:      "owner@acme.com", // duplicate of registrant, dropped
			TechEmail:       "tech@acme.com",
		},
	}}

	e := testEnricher(st, client, &fakeClock{})
	hit, err := e.EnrichDomain(context.Background(), "https://www.Acme.com/")
	require.NoError(t, err)
	assert.True(t, hit)

	rec, ok := st.records["acme.com"]
	require.True(t, ok)
	assert.Equal(t, "owner@acme.com", rec.RegistrantEmail)
	assert.Equal(t, "Acme Goods Llc", rec.CompanyName)
	assert.NotEmpty(t, rec.WhoisData)

	// Attempt recorded as succeeded.
	assert.True(t, st.attempts["acme.com"])

	// Both linked sellers get the derived contacts, whois-sourced and
	// unverified: 2 emails + 1 phone each.
	require.Len(t, st.contacts, 6)
	for _, c := range st.contacts {
		assert.Equal(t, model.SourceWhois, c.Source)
		assert.False(t, c.Verified)
	}
}

func TestEnrichDomain_NoDataRecordsAttempt(t *testing.T) {
	st := newFakeStore()
	client := &fakeWhois{}

	e := testEnricher(st, client, &fakeClock{})
	hit, err := e.EnrichDomain(context.Background(), "unknown.com")
	require.NoError(t, err)
	assert.False(t, hit)

	succeeded, ok := st.attempts["unknown.com"]
	require.True(t, ok)
	assert.False(t, succeeded)
	assert.Empty(t, st.records)
	assert.Empty(t, st.contacts)
}

func TestEnrichDomain_InvalidDomain(t *testing.T) {
	e := testEnricher(newFakeStore(), &fakeWhois{}, &fakeClock{})
	_, err := e.EnrichDomain(context.Background(), "not a domain")
	assert.Error(t, err)
}

func TestRunBatch_ChunksAndCounts(t *testing.T) {
	st := newFakeStore()
	st.candidates = []string{"a.com", "b.com", "c.com", "d.com", "e.com"}
	client := &fakeWhois{records: map[string]*whois.Record{
		"a.com": {RegistrantEmail: "x@a.com"},
		"d.com": {RegistrantEmail: "x@d.com"},
	}}
	clock := &fakeClock{}

	e := testEnricher(st, client, clock)
	summary, err := e.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.DomainsProcessed)
	assert.Equal(t, 2, summary.Hits)
	assert.Equal(t, 3, summary.Misses)
	assert.Equal(t, 0, summary.Failed)
	assert.InDelta(t, 5*0.001, summary.CostUSD, 1e-9)

	// Chunk size 2 over 5 domains: delays after domains 2 and 4.
	assert.Len(t, clock.sleeps, 2)

	require.Len(t, st.runs, 1)
	assert.Equal(t, "domain_enrichment", st.runs[0].Stage)
	assert.Equal(t, "completed", st.runs[0].Status)
}

func TestRunBatch_ChunkLookupsRunConcurrently(t *testing.T) {
	st := newFakeStore()
	st.candidates = []string{"a.com", "b.com"}
	client := &gateWhois{
		entered: make(chan string, 2),
		release: make(chan struct{}),
	}

	e := testEnricher(st, client, &fakeClock{})
	done := make(chan *BatchSummary, 1)
	go func() {
		summary, err := e.RunBatch(context.Background(), 10)
		assert.NoError(t, err)
		done <- summary
	}()

	// Both lookups of the chunk must be in flight before either is released.
	for i := 0; i < 2; i++ {
		select {
		case <-client.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("chunk lookups ran one at a time")
		}
	}
	close(client.release)

	summary := <-done
	assert.Equal(t, 2, summary.Misses)
	assert.Equal(t, 0, summary.Failed)
}

func TestRunBatch_LookupErrorsCounted(t *testing.T) {
	st := newFakeStore()
	st.candidates = []string{"a.com", "b.com"}
	client := &fakeWhois{err: errors.New("provider down")}

	e := testEnricher(st, client, &fakeClock{})
	summary, err := e.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Hits)
	// Hard provider errors record no attempt row: the domain stays a
	// candidate for a later batch, unlike a definitive no-data answer.
	assert.Empty(t, st.attempts)

	require.Len(t, st.runs, 1)
	assert.Equal(t, "failed", st.runs[0].Status)
}
