// Package estimate converts product rank and price into estimated revenue
// and maintains per-category top-tier flags. The rank model is an admittedly
// approximate heuristic; figures are relative signals, not accounting.
package estimate

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sellerscout/internal/store"
)

// Power-law fit of monthly unit sales against marketplace rank.
const (
	unitsCoefficient = 64700.0
	unitsExponent    = -0.87
)

// EstimateUnits estimates monthly unit sales from a marketplace rank. Pure
// and bit-reproducible; returns 0 for rank <= 0.
func EstimateUnits(rank int) int64 {
	if rank <= 0 {
		return 0
	}
	return int64(math.Round(unitsCoefficient * math.Pow(float64(rank), unitsExponent)))
}

// EstimateRevenue multiplies price by estimated units, returning 0 when
// either input is missing.
func EstimateRevenue(price float64, units int64) float64 {
	if price <= 0 || units <= 0 {
		return 0
	}
	return price * float64(units)
}

// Estimator owns product revenue estimates and top-tier flags.
type Estimator struct {
	st              store.Store
	chunkSize       int
	topTierFraction float64
	refreshEvery    time.Duration
	now             func() time.Time
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithChunkSize overrides the recompute chunk size.
func WithChunkSize(n int) Option {
	return func(e *Estimator) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithTopTierFraction overrides the flagged fraction per category.
func WithTopTierFraction(f float64) Option {
	return func(e *Estimator) {
		if f > 0 && f <= 1 {
			e.topTierFraction = f
		}
	}
}

// WithRefreshWindow overrides the stale-refresh window.
func WithRefreshWindow(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.refreshEvery = d
		}
	}
}

// WithNow sets a fixed clock for testing.
func WithNow(now func() time.Time) Option {
	return func(e *Estimator) {
		e.now = now
	}
}

// New creates an Estimator with the default chunk size (1000), top-tier
// fraction (0.2) and refresh window (7 days).
func New(st store.Store, opts ...Option) *Estimator {
	e := &Estimator{
		st:              st,
		chunkSize:       1000,
		topTierFraction: 0.2,
		refreshEvery:    7 * 24 * time.Hour,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecomputeSummary reports one recompute pass.
type RecomputeSummary struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// RecomputeAll re-estimates every product carrying both price and rank, in
// fixed-size chunks. Invalid rows are skipped individually; a chunk write
// failure is counted and the pass continues with the next chunk.
func (e *Estimator) RecomputeAll(ctx context.Context) (*RecomputeSummary, error) {
	summary := &RecomputeSummary{}
	var afterID int64

	for {
		products, err := e.st.ListEstimableProducts(ctx, afterID, e.chunkSize)
		if err != nil {
			return summary, eris.Wrap(err, "estimate: list products")
		}
		if len(products) == 0 {
			break
		}
		afterID = products[len(products)-1].ID

		updates := make([]store.EstimateUpdate, 0, len(products))
		for _, p := range products {
			summary.Processed++
			if !p.HasEstimateInputs() {
				summary.Skipped++
				continue
			}
			units := EstimateUnits(*p.Rank)
			updates = append(updates, store.EstimateUpdate{
				ProductID: p.ID,
				Units:     units,
				Revenue:   EstimateRevenue(*p.Price, units),
			})
		}

		if err := e.st.UpdateEstimates(ctx, updates); err != nil {
			summary.Failed += len(updates)
			zap.L().Warn("estimate: chunk write failed",
				zap.Int64("after_id", afterID),
				zap.Error(err))
			continue
		}
		summary.Updated += len(updates)
	}

	zap.L().Info("estimate: recompute complete",
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// ComputeTopTier flags the top ceil(N * fraction) products of one category
// by estimated revenue and unflags the rest. Ties are broken by the store's
// stable id ordering.
func (e *Estimator) ComputeTopTier(ctx context.Context, category string) (int, error) {
	products, err := e.st.ListCategoryByRevenue(ctx, category)
	if err != nil {
		return 0, eris.Wrapf(err, "estimate: list category %s", category)
	}
	if len(products) == 0 {
		return 0, e.st.SetTopTier(ctx, category, nil)
	}

	count := int(math.Ceil(float64(len(products)) * e.topTierFraction))
	topIDs := make([]int64, 0, count)
	for _, p := range products[:count] {
		topIDs = append(topIDs, p.ID)
	}

	if err := e.st.SetTopTier(ctx, category, topIDs); err != nil {
		return 0, eris.Wrapf(err, "estimate: set top tier for %s", category)
	}

	zap.L().Info("estimate: top tier computed",
		zap.String("category", category),
		zap.Int("products", len(products)),
		zap.Int("flagged", count))
	return count, nil
}

// ComputeAllTopTiers recomputes top-tier flags category by category, never
// globally. A failing category is logged and skipped.
func (e *Estimator) ComputeAllTopTiers(ctx context.Context) (int, error) {
	categories, err := e.st.ListCategories(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "estimate: list categories")
	}

	flagged := 0
	for _, cat := range categories {
		n, err := e.ComputeTopTier(ctx, cat)
		if err != nil {
			zap.L().Warn("estimate: category failed", zap.String("category", cat), zap.Error(err))
			continue
		}
		flagged += n
	}
	return flagged, nil
}

// RefreshStale recomputes estimates for products whose refresh is due and
// advances their next_refresh_at by the refresh window.
func (e *Estimator) RefreshStale(ctx context.Context) (*RecomputeSummary, error) {
	now := e.now().UTC()
	summary := &RecomputeSummary{}

	products, err := e.st.ListStaleProducts(ctx, now, e.chunkSize)
	if err != nil {
		return summary, eris.Wrap(err, "estimate: list stale products")
	}
	if len(products) == 0 {
		return summary, nil
	}

	ids := make([]int64, 0, len(products))
	updates := make([]store.EstimateUpdate, 0, len(products))
	for _, p := range products {
		summary.Processed++
		ids = append(ids, p.ID)
		if !p.HasEstimateInputs() {
			summary.Skipped++
			continue
		}
		units := EstimateUnits(*p.Rank)
		updates = append(updates, store.EstimateUpdate{
			ProductID: p.ID,
			Units:     units,
			Revenue:   EstimateRevenue(*p.Price, units),
		})
	}

	if err := e.st.UpdateEstimates(ctx, updates); err != nil {
		return summary, eris.Wrap(err, "estimate: write refreshed estimates")
	}
	summary.Updated = len(updates)

	if err := e.st.AdvanceRefresh(ctx, ids, now.Add(e.refreshEvery)); err != nil {
		return summary, eris.Wrap(err, "estimate: advance refresh window")
	}
	return summary, nil
}
