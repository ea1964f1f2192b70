// Package crawl manages the lifecycle of external data-provider calls as
// persisted crawl jobs: pending -> running -> {completed, failed}. Each run
// performs exactly one external call; retry policy above the transport level
// is the caller's responsibility.
package crawl

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sellerscout/internal/cost"
	"github.com/sells-group/sellerscout/internal/model"
	"github.com/sells-group/sellerscout/internal/store"
	"github.com/sells-group/sellerscout/pkg/marketdata"
)

// Orchestrator drives crawl jobs against the marketplace data provider and
// owns seller deduplication.
type Orchestrator struct {
	st     store.Store
	market marketdata.Client
	rates  cost.Rates
}

// New creates an Orchestrator.
func New(st store.Store, market marketdata.Client, rates cost.Rates) *Orchestrator {
	return &Orchestrator{st: st, market: market, rates: rates}
}

// SellerLookupResult summarizes one seller_lookup job.
type SellerLookupResult struct {
	SellersFound int     `json:"sellers_found"`
	NewSellers   int     `json:"new_sellers"`
	Duplicates   int     `json:"duplicates"`
	SellerIDs    []int64 `json:"-"`
}

// JobResult is the outcome of one completed crawl job.
type JobResult struct {
	Job            *model.CrawlJob
	SellerLookup   *SellerLookupResult
	Storefront     *marketdata.StorefrontPage
	ProductsSeeded int
}

// CreateJob persists a pending job and returns it.
func (o *Orchestrator) CreateJob(ctx context.Context, jobType model.JobType, targetRef string) (*model.CrawlJob, error) {
	return o.st.CreateJob(ctx, jobType, targetRef)
}

// RunJob transitions the job to running, performs the single external call
// for its type, and records the terminal state with cost and either a result
// summary or an error message. The returned error mirrors the failed state
// so batch drivers can count it; it never leaves the job mid-flight.
func (o *Orchestrator) RunJob(ctx context.Context, id string) (*JobResult, error) {
	job, err := o.st.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.st.StartJob(ctx, id); err != nil {
		return nil, err
	}

	jobCost := o.rates.JobCost(string(job.JobType))
	result := &JobResult{Job: job}

	var summary string
	switch job.JobType {
	case model.JobSellerLookup:
		summary, err = o.runSellerLookup(ctx, job, result)
	case model.JobStorefrontParse:
		summary, err = o.runStorefrontParse(ctx, job, result)
	case model.JobProductSearch:
		summary, err = o.runProductSearch(ctx, job, result)
	default:
		err = eris.Errorf("crawl: unknown job type %q", job.JobType)
	}

	if err != nil {
		if failErr := o.st.FailJob(ctx, id, err.Error(), jobCost); failErr != nil {
			zap.L().Error("crawl: failed to record job failure",
				zap.String("job_id", id), zap.Error(failErr))
		}
		zap.L().Warn("crawl: job failed",
			zap.String("job_id", id),
			zap.String("job_type", string(job.JobType)),
			zap.Error(err))
		return nil, err
	}

	if err := o.st.CompleteJob(ctx, id, summary, jobCost); err != nil {
		return nil, err
	}
	job.Status = model.JobCompleted
	job.ResultSummary = summary
	job.CostCredits = jobCost
	return result, nil
}

// runSellerLookup fetches the sellers behind a product, excludes the
// platform's own fulfillment, and dedups candidates by normalized URL. The
// link row is upserted unconditionally (idempotent).
func (o *Orchestrator) runSellerLookup(ctx context.Context, job *model.CrawlJob, result *JobResult) (string, error) {
	productID, err := strconv.ParseInt(job.TargetRef, 10, 64)
	if err != nil {
		return "", eris.Wrapf(err, "crawl: bad product ref %q", job.TargetRef)
	}
	product, err := o.st.GetProduct(ctx, productID)
	if err != nil {
		return "", err
	}

	listings, err := o.market.GetSellers(ctx, product.ExternalID)
	if err != nil {
		return "", err
	}

	lookup := &SellerLookupResult{}
	primary := true
	for _, listing := range listings {
		if listing.PlatformFulfilled {
			continue
		}
		normalized := model.NormalizeSellerURL(listing.URL)
		if normalized == "" {
			// ValidationError: skip the candidate, continue the batch.
			zap.L().Debug("crawl: seller candidate without URL",
				zap.String("name", listing.Name))
			continue
		}
		lookup.SellersFound++

		sellerID, created, err := o.st.UpsertSeller(ctx, model.Seller{
			Name:          listing.Name,
			URL:           listing.URL,
			NormalizedURL: normalized,
			Rating:        listing.Rating,
			ListingsCount: listing.ListingsCount,
		})
		if err != nil {
			return "", err
		}
		if created {
			lookup.NewSellers++
		} else {
			lookup.Duplicates++
		}
		lookup.SellerIDs = append(lookup.SellerIDs, sellerID)

		if err := o.st.LinkProductSeller(ctx, model.ProductSellerLink{
			ProductID:       product.ID,
			SellerID:        sellerID,
			IsPrimarySeller: primary,
		}); err != nil {
			return "", err
		}
		primary = false
	}

	result.SellerLookup = lookup
	return marshalSummary(lookup), nil
}

// runStorefrontParse fetches a seller's storefront page and persists the
// business-info blob. Contact mapping is the extractor's job.
func (o *Orchestrator) runStorefrontParse(ctx context.Context, job *model.CrawlJob, result *JobResult) (string, error) {
	sellerID, err := strconv.ParseInt(job.TargetRef, 10, 64)
	if err != nil {
		return "", eris.Wrapf(err, "crawl: bad seller ref %q", job.TargetRef)
	}
	seller, err := o.st.GetSeller(ctx, sellerID)
	if err != nil {
		return "", err
	}

	page, err := o.market.GetStorefront(ctx, seller.URL)
	if err != nil {
		return "", err
	}

	domains := make([]string, 0, len(page.ExternalDomains))
	seen := make(map[string]bool, len(page.ExternalDomains))
	for _, d := range page.ExternalDomains {
		cleaned := model.CleanDomain(d)
		if !model.ValidDomain(cleaned) || seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		domains = append(domains, cleaned)
	}

	if err := o.st.SaveStorefront(ctx, model.Storefront{
		SellerID:        seller.ID,
		Title:           page.Title,
		Description:     page.Description,
		Keywords:        page.Keywords,
		ExternalDomains: domains,
	}); err != nil {
		return "", err
	}

	result.Storefront = page
	return marshalSummary(map[string]int{
		"emails":           len(page.Emails),
		"phones":           len(page.Phones),
		"external_domains": len(domains),
	}), nil
}

// runProductSearch runs one keyword search and seeds products from the
// ranked result list.
func (o *Orchestrator) runProductSearch(ctx context.Context, job *model.CrawlJob, result *JobResult) (string, error) {
	listings, err := o.market.SearchProducts(ctx, job.TargetRef)
	if err != nil {
		return "", err
	}

	products := make([]model.Product, 0, len(listings))
	for _, l := range listings {
		if l.ExternalID == "" {
			continue
		}
		p := model.Product{ExternalID: l.ExternalID, Category: l.Category}
		if l.Price > 0 {
			price := l.Price
			p.Price = &price
		}
		if l.Rank > 0 {
			rank := l.Rank
			p.Rank = &rank
		}
		products = append(products, p)
	}

	n, err := o.st.UpsertProducts(ctx, products)
	if err != nil {
		return "", err
	}
	result.ProductsSeeded = int(n)
	return marshalSummary(map[string]int64{"items": int64(len(listings)), "seeded": n}), nil
}

func marshalSummary(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
