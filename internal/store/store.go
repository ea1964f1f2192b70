// Package store defines the persistence interface for the seller lead
// pipeline and its Postgres and SQLite implementations. The store is the
// single system of record: dedup checks and status transitions are backed by
// uniqueness constraints and conflict-handling upserts, not application
// locks.
package store

import (
	"context"
	"time"

	"github.com/sells-group/sellerscout/internal/model"
)

// EstimateUpdate carries recomputed revenue figures for one product.
type EstimateUpdate struct {
	ProductID int64
	Units     int64
	Revenue   float64
}

// MetricsPolicy parameterizes the seller-metrics resync. The whale threshold
// is deployment policy, not a pipeline constant.
type MetricsPolicy struct {
	WhaleThreshold float64 `yaml:"whale_threshold" mapstructure:"whale_threshold"`
}

// Lead pairs a seller with its contact signals for reporting.
type Lead struct {
	Seller   model.Seller
	Contacts []model.Contact
}

// Store is the persistence interface shared by both drivers.
type Store interface {
	// Products
	UpsertProducts(ctx context.Context, products []model.Product) (int64, error)
	ListEstimableProducts(ctx context.Context, afterID int64, limit int) ([]model.Product, error)
	UpdateEstimates(ctx context.Context, updates []EstimateUpdate) error
	ListCategories(ctx context.Context) ([]string, error)
	ListCategoryByRevenue(ctx context.Context, category string) ([]model.Product, error)
	SetTopTier(ctx context.Context, category string, topIDs []int64) error
	ListStaleProducts(ctx context.Context, now time.Time, limit int) ([]model.Product, error)
	AdvanceRefresh(ctx context.Context, ids []int64, next time.Time) error
	SelectUnprocessedTopTier(ctx context.Context, limit int, bucket model.RevenueBucket) ([]model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)

	// Crawl jobs
	CreateJob(ctx context.Context, jobType model.JobType, targetRef string) (*model.CrawlJob, error)
	GetJob(ctx context.Context, id string) (*model.CrawlJob, error)
	StartJob(ctx context.Context, id string) error
	CompleteJob(ctx context.Context, id string, summary string, costUSD float64) error
	FailJob(ctx context.Context, id string, errMsg string, costUSD float64) error

	// Sellers
	UpsertSeller(ctx context.Context, s model.Seller) (id int64, created bool, err error)
	GetSeller(ctx context.Context, id int64) (*model.Seller, error)
	LinkProductSeller(ctx context.Context, link model.ProductSellerLink) error
	MarkStorefrontParsed(ctx context.Context, sellerID int64) error
	ListParseCandidates(ctx context.Context, limit int, prioritizeWhale bool) ([]model.Seller, error)
	ListEnrichmentCandidates(ctx context.Context, minRevenue float64, maxContacts, limit int) ([]model.Seller, error)
	ResyncSellerMetrics(ctx context.Context, policy MetricsPolicy) error

	// Contacts
	UpsertContacts(ctx context.Context, contacts []model.Contact) (int64, error)
	ListSellerContacts(ctx context.Context, sellerID int64) ([]model.Contact, error)

	// Storefronts
	SaveStorefront(ctx context.Context, sf model.Storefront) error

	// Domains
	ListCandidateDomains(ctx context.Context, limit int) ([]string, error)
	RecordDomainAttempt(ctx context.Context, domain string, succeeded bool, costUSD float64) error
	UpsertDomainRecord(ctx context.Context, rec model.DomainRecord) error
	SellersForDomain(ctx context.Context, domain string) ([]int64, error)

	// Provider usage
	ProviderUsage(ctx context.Context, provider string, day time.Time) (int, error)
	IncrementProviderUsage(ctx context.Context, provider string, day time.Time) error

	// Run summaries
	RecordRun(ctx context.Context, run model.PipelineRun) error

	// Reporting
	ListLeads(ctx context.Context, limit int) ([]Lead, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// usageDay formats the per-provider usage day key.
func usageDay(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}
