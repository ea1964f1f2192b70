// Package cost holds per-call pricing rates and the run-level cost ledger.
package cost

import "sync"

// Rates holds nominal per-call pricing in USD. Crawl jobs carry a flat unit
// cost; premium contact providers price per lookup in their registry config.
type Rates struct {
	SellerLookup    float64 `yaml:"seller_lookup" mapstructure:"seller_lookup"`
	StorefrontParse float64 `yaml:"storefront_parse" mapstructure:"storefront_parse"`
	ProductSearch   float64 `yaml:"product_search" mapstructure:"product_search"`
	WhoisLookup     float64 `yaml:"whois_lookup" mapstructure:"whois_lookup"`
}

// DefaultRates returns the default nominal pricing.
func DefaultRates() Rates {
	return Rates{
		SellerLookup:    0.001,
		StorefrontParse: 0.001,
		ProductSearch:   0.002,
		WhoisLookup:     0.001,
	}
}

// JobCost returns the flat cost for a crawl job type.
func (r Rates) JobCost(jobType string) float64 {
	switch jobType {
	case "seller_lookup":
		return r.SellerLookup
	case "storefront_parse":
		return r.StorefrontParse
	case "product_search":
		return r.ProductSearch
	}
	return 0
}

// Ledger accumulates spend across a batch run. Safe for concurrent use by
// chunk workers.
type Ledger struct {
	mu         sync.Mutex
	totalUSD   float64
	byCategory map[string]float64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{byCategory: make(map[string]float64)}
}

// Add records spend under a category.
func (l *Ledger) Add(category string, usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalUSD += usd
	l.byCategory[category] += usd
}

// Total returns the accumulated spend.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalUSD
}

// ByCategory returns a copy of per-category spend.
func (l *Ledger) ByCategory() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.byCategory))
	for k, v := range l.byCategory {
		out[k] = v
	}
	return out
}
