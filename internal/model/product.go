// Package model defines the typed records shared across the seller lead
// pipeline. Rows are validated on read at the store boundary; malformed rows
// are rejected there rather than trusted downstream.
package model

import "time"

// Product is a marketplace product tracked for revenue estimation.
// Products are created by product_search seeding, mutated only by the
// estimate recompute/refresh operations, and never deleted.
type Product struct {
	ID            int64      `json:"id"`
	ExternalID    string     `json:"external_id"`
	Category      string     `json:"category"`
	Price         *float64   `json:"price,omitempty"`
	Rank          *int       `json:"rank,omitempty"`
	EstUnits      *int64     `json:"est_units,omitempty"`
	EstRevenue    *float64   `json:"est_revenue,omitempty"`
	IsTopTier     bool       `json:"is_top_tier"`
	NextRefreshAt *time.Time `json:"next_refresh_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasEstimateInputs reports whether the product carries both price and rank,
// the inputs the revenue model needs.
func (p Product) HasEstimateInputs() bool {
	return p.Price != nil && *p.Price > 0 && p.Rank != nil && *p.Rank > 0
}

// RevenueBucket buckets products by estimated revenue for discovery
// prioritization.
type RevenueBucket string

const (
	BucketHigh   RevenueBucket = "high"   // est_revenue >= 50000
	BucketMedium RevenueBucket = "medium" // 10000 <= est_revenue < 50000
	BucketLow    RevenueBucket = "low"    // est_revenue < 10000
)

// Revenue bucket boundaries in dollars.
const (
	HighRevenueFloor   = 50000.0
	MediumRevenueFloor = 10000.0
)

// ValidBucket reports whether b is a known bucket name. The empty string
// means "no bucket filter" and is valid.
func ValidBucket(b RevenueBucket) bool {
	switch b {
	case "", BucketHigh, BucketMedium, BucketLow:
		return true
	}
	return false
}
