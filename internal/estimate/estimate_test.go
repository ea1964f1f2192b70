package estimate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/sellerscout/internal/model"
	"github.com/sells-group/sellerscout/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestEstimateUnits(t *testing.T) {
	assert.Equal(t, int64(math.Round(64700*math.Pow(1000, -0.87))), EstimateUnits(1000))
	assert.Equal(t, int64(math.Round(64700*math.Pow(500, -0.87))), EstimateUnits(500))
	assert.Equal(t, int64(math.Round(64700*math.Pow(1, -0.87))), EstimateUnits(1))
	assert.Equal(t, int64(64700), EstimateUnits(1))

	assert.Equal(t, int64(0), EstimateUnits(0))
	assert.Equal(t, int64(0), EstimateUnits(-5))

	// Deterministic: repeated calls agree bit-for-bit.
	assert.Equal(t, EstimateUnits(1000), EstimateUnits(1000))

	// Lower rank sells more.
	assert.Greater(t, EstimateUnits(10), EstimateUnits(100))
	assert.Greater(t, EstimateUnits(100), EstimateUnits(10000))
}

func TestEstimateRevenue(t *testing.T) {
	units := EstimateUnits(500)
	assert.InDelta(t, 20*float64(units), EstimateRevenue(20, units), 0.0001)

	assert.Equal(t, 0.0, EstimateRevenue(0, 100))
	assert.Equal(t, 0.0, EstimateRevenue(19.99, 0))
	assert.Equal(t, 0.0, EstimateRevenue(-5, -5))
}

// fakeStore implements the slice of store.Store the estimator touches.
type fakeStore struct {
	store.Store

	products   []model.Product
	updates    []store.EstimateUpdate
	categories []string
	byCategory map[string][]model.Product
	topTier    map[string][]int64
	advanced   []int64
	advancedTo time.Time

	listErr   error
	updateErr error
}

func (f *fakeStore) ListEstimableProducts(_ context.Context, afterID int64, limit int) ([]model.Product, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Product
	for _, p := range f.products {
		if p.ID > afterID {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateEstimates(_ context.Context, updates []store.EstimateUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updates...)
	return nil
}

func (f *fakeStore) ListCategories(context.Context) ([]string, error) {
	return f.categories, nil
}

func (f *fakeStore) ListCategoryByRevenue(_ context.Context, category string) ([]model.Product, error) {
	return f.byCategory[category], nil
}

func (f *fakeStore) SetTopTier(_ context.Context, category string, topIDs []int64) error {
	if f.topTier == nil {
		f.topTier = make(map[string][]int64)
	}
	f.topTier[category] = topIDs
	return nil
}

func (f *fakeStore) ListStaleProducts(_ context.Context, now time.Time, limit int) ([]model.Product, error) {
	var out []model.Product
	for _, p := range f.products {
		if p.NextRefreshAt != nil && !p.NextRefreshAt.After(now) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) AdvanceRefresh(_ context.Context, ids []int64, next time.Time) error {
	f.advanced = ids
	f.advancedTo = next
	return nil
}

func product(id int64, category string, price float64, rank int) model.Product {
	return model.Product{ID: id, ExternalID: "ext", Category: category, Price: &price, Rank: &rank}
}

func TestRecomputeAll(t *testing.T) {
	st := &fakeStore{products: []model.Product{
		product(1, "kitchen", 20, 500),
		product(2, "kitchen", 35, 1200),
		product(3, "garden", 9.99, 80),
	}}

	summary, err := New(st, WithChunkSize(2)).RecomputeAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Updated)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, st.updates, 3)

	units := EstimateUnits(500)
	assert.Equal(t, store.EstimateUpdate{
		ProductID: 1,
		Units:     units,
		Revenue:   EstimateRevenue(20, units),
	}, st.updates[0])
}

func TestRecomputeAll_ChunkFailureContinues(t *testing.T) {
	st := &fakeStore{
		products:  []model.Product{product(1, "kitchen", 20, 500), product(2, "kitchen", 35, 1200)},
		updateErr: assert.AnError,
	}

	summary, err := New(st, WithChunkSize(1)).RecomputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 2, summary.Failed)
}

func TestComputeTopTier_CeilFraction(t *testing.T) {
	// 10 products at default 0.2 flag exactly 2, the highest-revenue pair.
	products := make([]model.Product, 0, 10)
	for i := 1; i <= 10; i++ {
		p := product(int64(i), "kitchen", 20, 500)
		rev := float64(1000 * (11 - i)) // descending revenue, id ascending
		p.EstRevenue = &rev
		products = append(products, p)
	}
	st := &fakeStore{byCategory: map[string][]model.Product{"kitchen": products}}

	flagged, err := New(st).ComputeTopTier(context.Background(), "kitchen")
	require.NoError(t, err)
	assert.Equal(t, 2, flagged)
	assert.Equal(t, []int64{1, 2}, st.topTier["kitchen"])
}

func TestComputeTopTier_SmallCategoryFlagsOne(t *testing.T) {
	// ceil(3 * 0.2) = 1
	var products []model.Product
	for i := 1; i <= 3; i++ {
		p := product(int64(i), "garden", 10, 100)
		rev := float64(100 * i)
		p.EstRevenue = &rev
		products = append(products, p)
	}
	// Store orders by revenue descending, stable id tie-break.
	st := &fakeStore{byCategory: map[string][]model.Product{
		"garden": {products[2], products[1], products[0]},
	}}

	flagged, err := New(st).ComputeTopTier(context.Background(), "garden")
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)
	assert.Equal(t, []int64{3}, st.topTier["garden"])
}

func TestComputeTopTier_EmptyCategoryUnflags(t *testing.T) {
	st := &fakeStore{byCategory: map[string][]model.Product{}}
	flagged, err := New(st).ComputeTopTier(context.Background(), "empty")
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)
	assert.Nil(t, st.topTier["empty"])
}

func TestComputeAllTopTiers(t *testing.T) {
	rev := 5000.0
	a := product(1, "a", 20, 500)
	a.EstRevenue = &rev
	b := product(2, "b", 20, 500)
	b.EstRevenue = &rev

	st := &fakeStore{
		categories: []string{"a", "b"},
		byCategory: map[string][]model.Product{
			"a": {a},
			"b": {b},
		},
	}
	flagged, err := New(st).ComputeAllTopTiers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, flagged)
	assert.Equal(t, []int64{1}, st.topTier["a"])
	assert.Equal(t, []int64{2}, st.topTier["b"])
}

func TestRefreshStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)
	notDue := now.Add(time.Hour)

	p1 := product(1, "kitchen", 20, 500)
	p1.NextRefreshAt = &due
	p2 := product(2, "kitchen", 30, 700)
	p2.NextRefreshAt = &notDue

	st := &fakeStore{products: []model.Product{p1, p2}}
	est := New(st,
		WithRefreshWindow(7*24*time.Hour),
		WithNow(func() time.Time { return now }))

	summary, err := est.RefreshStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, []int64{1}, st.advanced)
	assert.Equal(t, now.Add(7*24*time.Hour), st.advancedTo)
}
