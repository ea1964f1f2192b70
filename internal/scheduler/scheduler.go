// Package scheduler batches seller discovery over top-tier products:
// unprocessed products are pulled in priority order, dispatched as
// seller_lookup jobs in fixed-size concurrent chunks, and seller metrics are
// resynced once the batch settles.
package scheduler

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sellerscout/internal/cost"
	"github.com/sells-group/sellerscout/internal/crawl"
	"github.com/sells-group/sellerscout/internal/model"
	"github.com/sells-group/sellerscout/internal/resilience"
	"github.com/sells-group/sellerscout/internal/store"
)

// Config controls batch sizing and pacing.
type Config struct {
	// Concurrency is the chunk size; each chunk's jobs run concurrently.
	Concurrency int
	// ChunkDelay is the pause between consecutive chunks.
	ChunkDelay time.Duration
	// Bucket filters candidate products by revenue bucket; empty means all
	// top-tier products.
	Bucket model.RevenueBucket
}

// BatchSummary aggregates one discovery batch.
type BatchSummary struct {
	ProductsProcessed int     `json:"products_processed"`
	JobsFailed        int     `json:"jobs_failed"`
	SellersFound      int     `json:"sellers_found"`
	NewSellers        int     `json:"new_sellers"`
	Duplicates        int     `json:"duplicates"`
	CostUSD           float64 `json:"cost_usd"`
}

// Scheduler runs seller discovery batches.
type Scheduler struct {
	st    store.Store
	orch  *crawl.Orchestrator
	cfg   Config
	clock resilience.Clock
	now   func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the inter-chunk delay clock, used by tests.
func WithClock(c resilience.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithNow replaces the wall clock used for run records.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler. Concurrency defaults to 5 and ChunkDelay to 2s
// when unset.
func New(st store.Store, orch *crawl.Orchestrator, cfg Config, opts ...Option) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.ChunkDelay <= 0 {
		cfg.ChunkDelay = 2 * time.Second
	}
	s := &Scheduler{st: st, orch: orch, cfg: cfg, clock: resilience.RealClock{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectCandidates returns up to limit top-tier products that have no
// seller_lookup job yet, highest estimated revenue first.
func (s *Scheduler) SelectCandidates(ctx context.Context, limit int) ([]model.Product, error) {
	return s.st.SelectUnprocessedTopTier(ctx, limit, s.cfg.Bucket)
}

// ProcessBatch dispatches one seller_lookup job per product in chunks of
// Concurrency, pausing ChunkDelay between chunks. A failed job is counted
// and never aborts its siblings. After the last chunk the seller metrics are
// resynced and a pipeline run row is recorded.
func (s *Scheduler) ProcessBatch(ctx context.Context, products []model.Product, policy store.MetricsPolicy) (*BatchSummary, error) {
	started := s.now()
	summary := &BatchSummary{ProductsProcessed: len(products)}

	var found, fresh, dupes, failed atomic.Int64
	ledger := cost.NewLedger()

	for start := 0; start < len(products); start += s.cfg.Concurrency {
		if start > 0 {
			if err := s.clock.Sleep(ctx, s.cfg.ChunkDelay); err != nil {
				return nil, err
			}
		}
		end := start + s.cfg.Concurrency
		if end > len(products) {
			end = len(products)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, p := range products[start:end] {
			product := p
			g.Go(func() error {
				res, err := s.runProduct(gctx, product)
				if err != nil {
					failed.Add(1)
					return nil // all-settled: count, don't abort
				}
				if res != nil && res.SellerLookup != nil {
					found.Add(int64(res.SellerLookup.SellersFound))
					fresh.Add(int64(res.SellerLookup.NewSellers))
					dupes.Add(int64(res.SellerLookup.Duplicates))
				}
				if res != nil && res.Job != nil {
					ledger.Add(string(res.Job.JobType), res.Job.CostCredits)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	summary.JobsFailed = int(failed.Load())
	summary.SellersFound = int(found.Load())
	summary.NewSellers = int(fresh.Load())
	summary.Duplicates = int(dupes.Load())
	summary.CostUSD = ledger.Total()

	if err := s.st.ResyncSellerMetrics(ctx, policy); err != nil {
		return summary, err
	}

	if err := s.st.RecordRun(ctx, model.PipelineRun{
		ID:          uuid.NewString(),
		Stage:       "seller_discovery",
		Status:      runStatus(summary.JobsFailed, summary.ProductsProcessed),
		Processed:   summary.ProductsProcessed,
		Succeeded:   summary.ProductsProcessed - summary.JobsFailed,
		Failed:      summary.JobsFailed,
		CostUSD:     summary.CostUSD,
		StartedAt:   started,
		CompletedAt: s.now(),
	}); err != nil {
		zap.L().Warn("scheduler: recording run failed", zap.Error(err))
	}

	zap.L().Info("scheduler: batch done",
		zap.Int("products", summary.ProductsProcessed),
		zap.Int("failed", summary.JobsFailed),
		zap.Int("sellers_found", summary.SellersFound),
		zap.Int("new_sellers", summary.NewSellers),
		zap.Float64("cost_usd", summary.CostUSD))
	return summary, nil
}

// Run selects candidates and processes them as one batch.
func (s *Scheduler) Run(ctx context.Context, limit int, policy store.MetricsPolicy) (*BatchSummary, error) {
	products, err := s.SelectCandidates(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		zap.L().Info("scheduler: no unprocessed top-tier products")
		return &BatchSummary{}, nil
	}
	return s.ProcessBatch(ctx, products, policy)
}

func (s *Scheduler) runProduct(ctx context.Context, p model.Product) (*crawl.JobResult, error) {
	job, err := s.orch.CreateJob(ctx, model.JobSellerLookup, formatID(p.ID))
	if err != nil {
		zap.L().Error("scheduler: job create failed",
			zap.Int64("product_id", p.ID), zap.Error(err))
		return nil, err
	}
	return s.orch.RunJob(ctx, job.ID)
}

func runStatus(failed, total int) string {
	switch {
	case total == 0 || failed == 0:
		return "completed"
	case failed == total:
		return "failed"
	}
	return "partial"
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
