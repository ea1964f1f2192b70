// Package domainenrich resolves external domains surfaced by storefronts to
// registrant data. Each domain is attempted at most once; a miss is recorded
// and never retried automatically.
package domainenrich

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/sellerscout/internal/model"
	"github.com/sells-group/sellerscout/internal/resilience"
	"github.com/sells-group/sellerscout/internal/store"
	"github.com/sells-group/sellerscout/pkg/whois"
)

// Config controls batch sizing and pacing.
type Config struct {
	ChunkSize  int
	ChunkDelay time.Duration
	// LookupCost is charged per attempted lookup, hit or miss.
	LookupCost float64
}

// Enricher drives WHOIS lookups over candidate domains.
type Enricher struct {
	st    store.Store
	whois whois.Client
	cfg   Config
	clock resilience.Clock
	now   func() time.Time
	caser cases.Caser
}

// Option customizes an Enricher.
type Option func(*Enricher)

// WithClock replaces the inter-chunk delay clock, used by tests.
func WithClock(c resilience.Clock) Option {
	return func(e *Enricher) { e.clock = c }
}

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(e *Enricher) { e.now = now }
}

// New creates an Enricher. ChunkSize defaults to 10 and ChunkDelay to 2s.
func New(st store.Store, client whois.Client, cfg Config, opts ...Option) *Enricher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.ChunkDelay <= 0 {
		cfg.ChunkDelay = 2 * time.Second
	}
	e := &Enricher{
		st:    st,
		whois: client,
		cfg:   cfg,
		clock: resilience.RealClock{},
		now:   time.Now,
		caser: cases.Title(language.English),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Candidates returns up to limit domains that have neither a record nor a
// recorded attempt: domain-type contacts unioned with storefront
// external-domain lists.
func (e *Enricher) Candidates(ctx context.Context, limit int) ([]string, error) {
	return e.st.ListCandidateDomains(ctx, limit)
}

// EnrichDomain performs the single lookup for one domain. A no-data result
// records a failed attempt with the nominal cost and returns false. A hit
// upserts the domain record and derives whois-sourced contacts for every
// seller already linked to the domain.
func (e *Enricher) EnrichDomain(ctx context.Context, domain string) (bool, error) {
	domain = model.CleanDomain(domain)
	if !model.ValidDomain(domain) {
		return false, eris.Errorf("domainenrich: invalid domain %q", domain)
	}

	rec, err := e.whois.Lookup(ctx, domain)
	if err != nil {
		if eris.Is(err, whois.ErrNoData) {
			if recErr := e.st.RecordDomainAttempt(ctx, domain, false, e.cfg.LookupCost); recErr != nil {
				return false, recErr
			}
			zap.L().Debug("domainenrich: no registrant data", zap.String("domain", domain))
			return false, nil
		}
		return false, err
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return false, eris.Wrap(err, "domainenrich: marshal whois record")
	}
	if err := e.st.UpsertDomainRecord(ctx, model.DomainRecord{
		Domain:          domain,
		WhoisData:       raw,
		RegistrantEmail: strings.ToLower(rec.RegistrantEmail),
		RegistrantPhone: rec.RegistrantPhone,
		CompanyName:     e.companyName(rec),
		EnrichedAt:      e.now(),
	}); err != nil {
		return false, err
	}
	if err := e.st.RecordDomainAttempt(ctx, domain, true, e.cfg.LookupCost); err != nil {
		return false, err
	}

	if err := e.deriveContacts(ctx, domain, rec); err != nil {
		return true, err
	}
	return true, nil
}

// deriveContacts fans the registrant data out to every seller linked to the
// domain, unverified, deduplicated by the store's uniqueness constraint.
func (e *Enricher) deriveContacts(ctx context.Context, domain string, rec *whois.Record) error {
	sellerIDs, err := e.st.SellersForDomain(ctx, domain)
	if err != nil {
		return err
	}
	if len(sellerIDs) == 0 {
		return nil
	}

	var batch []model.Contact
	for _, id := range sellerIDs {
		for _, email := range uniqueNonEmpty(rec.RegistrantEmail, rec.AdminEmail, rec.TechEmail) {
			if !model.ValidEmail(email) {
				continue
			}
			batch = append(batch, model.Contact{
				SellerID: id,
				Type:     model.ContactEmail,
				Value:    strings.ToLower(email),
				Source:   model.SourceWhois,
			})
		}
		for _, phone := range uniqueNonEmpty(rec.RegistrantPhone, rec.AdminPhone) {
			if !model.ValidPhone(phone) {
				continue
			}
			batch = append(batch, model.Contact{
				SellerID: id,
				Type:     model.ContactPhone,
				Value:    phone,
				Source:   model.SourceWhois,
			})
		}
	}
	if len(batch) == 0 {
		return nil
	}
	inserted, err := e.st.UpsertContacts(ctx, batch)
	if err != nil {
		return err
	}
	zap.L().Debug("domainenrich: contacts derived",
		zap.String("domain", domain),
		zap.Int("sellers", len(sellerIDs)),
		zap.Int64("inserted", inserted))
	return nil
}

// companyName prefers the registrant organization, falling back to the
// registrant name, title-cased for the lead sheet.
func (e *Enricher) companyName(rec *whois.Record) string {
	name := strings.TrimSpace(rec.RegistrantOrg)
	if name == "" {
		name = strings.TrimSpace(rec.RegistrantName)
	}
	if name == "" {
		return ""
	}
	return e.caser.String(strings.ToLower(name))
}

// BatchSummary aggregates one enrichment batch.
type BatchSummary struct {
	DomainsProcessed int     `json:"domains_processed"`
	Hits             int     `json:"hits"`
	Misses           int     `json:"misses"`
	Failed           int     `json:"failed"`
	CostUSD          float64 `json:"cost_usd"`
}

// RunBatch enriches up to limit candidate domains in chunks of ChunkSize.
// Each chunk's lookups run concurrently with ChunkDelay between chunks.
// Lookup failures are counted and never abort the batch; a pipeline run row
// is recorded at the end.
func (e *Enricher) RunBatch(ctx context.Context, limit int) (*BatchSummary, error) {
	started := e.now()
	domains, err := e.Candidates(ctx, limit)
	if err != nil {
		return nil, err
	}
	summary := &BatchSummary{DomainsProcessed: len(domains)}

	var hits, misses, failed atomic.Int64
	for start := 0; start < len(domains); start += e.cfg.ChunkSize {
		if start > 0 {
			if err := e.clock.Sleep(ctx, e.cfg.ChunkDelay); err != nil {
				return summary, err
			}
		}
		end := start + e.cfg.ChunkSize
		if end > len(domains) {
			end = len(domains)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, d := range domains[start:end] {
			domain := d
			g.Go(func() error {
				hit, err := e.EnrichDomain(gctx, domain)
				switch {
				case err != nil:
					failed.Add(1)
					zap.L().Warn("domainenrich: lookup failed",
						zap.String("domain", domain), zap.Error(err))
				case hit:
					hits.Add(1)
				default:
					misses.Add(1)
				}
				return nil // all-settled: count, don't abort
			})
		}
		if err := g.Wait(); err != nil {
			return summary, err
		}
	}

	summary.Hits = int(hits.Load())
	summary.Misses = int(misses.Load())
	summary.Failed = int(failed.Load())
	summary.CostUSD = float64(summary.Hits+summary.Misses) * e.cfg.LookupCost

	if err := e.st.RecordRun(ctx, model.PipelineRun{
		ID:          uuid.NewString(),
		Stage:       "domain_enrichment",
		Status:      runStatus(summary),
		Processed:   summary.DomainsProcessed,
		Succeeded:   summary.Hits,
		Failed:      summary.Failed,
		CostUSD:     summary.CostUSD,
		StartedAt:   started,
		CompletedAt: e.now(),
	}); err != nil {
		zap.L().Warn("domainenrich: recording run failed", zap.Error(err))
	}

	zap.L().Info("domainenrich: batch done",
		zap.Int("domains", summary.DomainsProcessed),
		zap.Int("hits", summary.Hits),
		zap.Int("misses", summary.Misses),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func runStatus(s *BatchSummary) string {
	switch {
	case s.DomainsProcessed == 0 || s.Failed == 0:
		return "completed"
	case s.Failed == s.DomainsProcessed:
		return "failed"
	}
	return "partial"
}

func uniqueNonEmpty(values ...string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	return out
}
