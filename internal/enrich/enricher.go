// Package enrich escalates high-value, contact-poor sellers through an
// ordered chain of premium lookup providers under per-provider daily quotas
// and a per-seller cost cap.
package enrich

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/sellerscout/internal/model"
	"github.com/sells-group/sellerscout/internal/resilience"
	"github.com/sells-group/sellerscout/internal/store"
	"github.com/sells-group/sellerscout/pkg/contactlookup"
)

// Config controls candidate selection and budgets.
type Config struct {
	// MinRevenue is the estimated-revenue floor for candidates.
	MinRevenue float64
	// NeedsContacts is the contact-count cutoff below which a seller is a
	// candidate.
	NeedsContacts int
	// MaxCostPerSeller caps the per-lookup cost of eligible providers.
	MaxCostPerSeller float64
	// SellerDelay throttles between consecutive sellers.
	SellerDelay time.Duration
}

// Outcome classifies one seller's enrichment result.
type Outcome string

const (
	OutcomeEnriched Outcome = "enriched"
	OutcomeFailed   Outcome = "failed"
)

// SellerResult is the outcome of enriching one seller. Attempted lists every
// provider actually called, hit or miss, in call order.
type SellerResult struct {
	SellerID      int64    `json:"seller_id"`
	Outcome       Outcome  `json:"outcome"`
	Provider      string   `json:"provider,omitempty"`
	Attempted     []string `json:"attempted,omitempty"`
	ContactsFound int      `json:"contacts_found"`
	CostUSD       float64  `json:"cost_usd"`
}

// RunSummary aggregates one enrichment run.
type RunSummary struct {
	SellersProcessed int            `json:"sellers_processed"`
	Enriched         int            `json:"enriched"`
	Failed           int            `json:"failed"`
	ContactsFound    int            `json:"contacts_found"`
	CostUSD          float64        `json:"cost_usd"`
	ProviderUsage    map[string]int `json:"provider_usage"`
}

// ClientFactory builds a lookup client for one provider; swapped out by
// tests.
type ClientFactory func(p Provider) contactlookup.Client

// Enricher runs the tiered chain.
type Enricher struct {
	st       store.Store
	registry *Registry
	cfg      Config
	factory  ClientFactory
	clients  map[string]contactlookup.Client
	clock    resilience.Clock
	now      func() time.Time
}

// Option customizes an Enricher.
type Option func(*Enricher)

// WithClientFactory replaces the provider-client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(e *Enricher) { e.factory = f }
}

// WithClock replaces the inter-seller delay clock, used by tests.
func WithClock(c resilience.Clock) Option {
	return func(e *Enricher) { e.clock = c }
}

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(e *Enricher) { e.now = now }
}

// New creates an Enricher. NeedsContacts defaults to 5 and SellerDelay to 1s.
func New(st store.Store, registry *Registry, cfg Config, opts ...Option) *Enricher {
	if cfg.NeedsContacts <= 0 {
		cfg.NeedsContacts = 5
	}
	if cfg.SellerDelay <= 0 {
		cfg.SellerDelay = time.Second
	}
	e := &Enricher{
		st:       st,
		registry: registry,
		cfg:      cfg,
		clients:  make(map[string]contactlookup.Client),
		clock:    resilience.RealClock{},
		now:      time.Now,
	}
	e.factory = func(p Provider) contactlookup.Client {
		return contactlookup.NewClient(p.Name, p.BaseURL, p.APIKey())
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Candidates returns sellers above the revenue floor with fewer than
// NeedsContacts contacts, ranked by priority score descending.
func (e *Enricher) Candidates(ctx context.Context, limit int) ([]model.Seller, error) {
	sellers, err := e.st.ListEnrichmentCandidates(ctx, e.cfg.MinRevenue, e.cfg.NeedsContacts, limit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sellers, func(i, j int) bool {
		return PriorityScore(sellers[i]) > PriorityScore(sellers[j])
	})
	return sellers, nil
}

// Priority score weights.
const (
	priorityRevenueCap    = 50.0
	priorityRevenueUnit   = 10000.0
	priorityWhaleBonus    = 25.0
	priorityListingsCap   = 15.0
	priorityListingsUnit  = 50.0
	priorityContactWeight = 5.0
)

// PriorityScore ranks an enrichment candidate: capped revenue term, whale
// bonus, capped listings term, minus a penalty per contact already held.
func PriorityScore(s model.Seller) float64 {
	score := math.Min(s.TotalEstRevenue/priorityRevenueUnit, priorityRevenueCap)
	if s.IsWhale {
		score += priorityWhaleBonus
	}
	if s.ListingsCount != nil {
		score += math.Min(float64(*s.ListingsCount)/priorityListingsUnit*priorityListingsCap, priorityListingsCap)
	}
	score -= float64(s.TotalContacts) * priorityContactWeight
	return score
}

// eligible reports whether the provider may be called right now: key
// configured, cost within the per-seller cap, daily usage below quota.
func (e *Enricher) eligible(ctx context.Context, p Provider) (bool, error) {
	if p.APIKey() == "" {
		return false, nil
	}
	if e.cfg.MaxCostPerSeller > 0 && p.CostPerLookup > e.cfg.MaxCostPerSeller {
		return false, nil
	}
	if p.DailyQuota > 0 {
		used, err := e.st.ProviderUsage(ctx, p.Name, e.now().UTC())
		if err != nil {
			return false, err
		}
		if used >= p.DailyQuota {
			return false, nil
		}
	}
	return true, nil
}

// EnrichSeller tries eligible providers in ascending cost order and stops at
// the first one returning at least one candidate. Provider errors mean "try
// the next provider"; exhausting the chain is a failed enrichment, not an
// error. Usage counters move only on attempted calls.
func (e *Enricher) EnrichSeller(ctx context.Context, seller model.Seller) (*SellerResult, error) {
	result := &SellerResult{SellerID: seller.ID, Outcome: OutcomeFailed}

	req := e.lookupRequest(ctx, seller)
	for _, p := range e.registry.ByCost() {
		ok, err := e.eligible(ctx, p)
		if err != nil {
			return result, err
		}
		if !ok {
			continue
		}

		if err := e.st.IncrementProviderUsage(ctx, p.Name, e.now().UTC()); err != nil {
			return result, err
		}
		result.Attempted = append(result.Attempted, p.Name)
		result.CostUSD += p.CostPerLookup

		candidates, err := e.client(p).Lookup(ctx, req)
		if err != nil {
			zap.L().Warn("enrich: provider lookup failed",
				zap.String("provider", p.Name),
				zap.Int64("seller_id", seller.ID),
				zap.Error(err))
			continue
		}
		if len(candidates) == 0 {
			continue
		}

		inserted, err := e.persistCandidates(ctx, seller.ID, p, candidates)
		if err != nil {
			return result, err
		}
		result.Outcome = OutcomeEnriched
		result.Provider = p.Name
		result.ContactsFound = inserted
		return result, nil
	}

	return result, nil
}

// persistCandidates maps provider candidates to contact rows, verified when
// confidence clears the provider's bar.
func (e *Enricher) persistCandidates(ctx context.Context, sellerID int64, p Provider, candidates []contactlookup.Candidate) (int, error) {
	batch := make([]model.Contact, 0, len(candidates))
	for _, c := range candidates {
		t := model.ContactType(c.Type)
		value := strings.TrimSpace(c.Value)
		if t == model.ContactEmail {
			value = strings.ToLower(value)
		}
		if !model.ValidContactValue(t, value) {
			continue
		}
		batch = append(batch, model.Contact{
			SellerID:   sellerID,
			Type:       t,
			Value:      value,
			Source:     p.Name,
			Verified:   c.Confidence >= p.MinConfidence && p.MinConfidence > 0,
			Confidence: c.Confidence,
		})
	}
	if len(batch) == 0 {
		return 0, nil
	}
	inserted, err := e.st.UpsertContacts(ctx, batch)
	return int(inserted), err
}

// lookupRequest assembles the provider request from the seller's best known
// domain and email contacts.
func (e *Enricher) lookupRequest(ctx context.Context, seller model.Seller) contactlookup.Request {
	req := contactlookup.Request{Company: seller.Name}
	contacts, err := e.st.ListSellerContacts(ctx, seller.ID)
	if err != nil {
		zap.L().Debug("enrich: listing contacts failed",
			zap.Int64("seller_id", seller.ID), zap.Error(err))
		return req
	}
	for _, c := range contacts {
		switch c.Type {
		case model.ContactDomain:
			if req.Domain == "" {
				req.Domain = c.Value
			}
		case model.ContactEmail:
			if req.KnownEmail == "" {
				req.KnownEmail = c.Value
			}
		}
	}
	return req
}

// Run enriches up to limit candidates with a fixed delay between sellers and
// records a pipeline run row.
func (e *Enricher) Run(ctx context.Context, limit int) (*RunSummary, error) {
	started := e.now()
	sellers, err := e.Candidates(ctx, limit)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		SellersProcessed: len(sellers),
		ProviderUsage:    make(map[string]int),
	}
	for i, seller := range sellers {
		if i > 0 {
			if err := e.clock.Sleep(ctx, e.cfg.SellerDelay); err != nil {
				return summary, err
			}
		}
		res, err := e.EnrichSeller(ctx, seller)
		if err != nil {
			// PersistenceError on this seller only; the batch continues.
			summary.Failed++
			zap.L().Error("enrich: seller aborted",
				zap.Int64("seller_id", seller.ID), zap.Error(err))
			continue
		}
		summary.CostUSD += res.CostUSD
		// Mirror the store's daily counters: every attempted call counts,
		// not just the winning provider's.
		for _, name := range res.Attempted {
			summary.ProviderUsage[name]++
		}
		if res.Outcome == OutcomeEnriched {
			summary.Enriched++
			summary.ContactsFound += res.ContactsFound
		} else {
			summary.Failed++
		}
	}

	if err := e.st.RecordRun(ctx, model.PipelineRun{
		ID:          uuid.NewString(),
		Stage:       "contact_enrichment",
		Status:      runStatus(summary),
		Processed:   summary.SellersProcessed,
		Succeeded:   summary.Enriched,
		Failed:      summary.Failed,
		CostUSD:     summary.CostUSD,
		StartedAt:   started,
		CompletedAt: e.now(),
	}); err != nil {
		zap.L().Warn("enrich: recording run failed", zap.Error(err))
	}

	zap.L().Info("enrich: run done",
		zap.Int("sellers", summary.SellersProcessed),
		zap.Int("enriched", summary.Enriched),
		zap.Int("failed", summary.Failed),
		zap.Float64("cost_usd", summary.CostUSD))
	return summary, nil
}

func (e *Enricher) client(p Provider) contactlookup.Client {
	if c, ok := e.clients[p.Name]; ok {
		return c
	}
	c := e.factory(p)
	e.clients[p.Name] = c
	return c
}

func runStatus(s *RunSummary) string {
	switch {
	case s.SellersProcessed == 0 || s.Failed == 0:
		return "completed"
	case s.Enriched == 0:
		return "failed"
	}
	return "partial"
}
