// Package contacts turns storefront pages and raw HTML into validated,
// deduplicated contact records and scores sellers for outreach.
package contacts

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sellerscout/internal/crawl"
	"github.com/sells-group/sellerscout/internal/model"
	"github.com/sells-group/sellerscout/internal/store"
	"github.com/sells-group/sellerscout/pkg/marketdata"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Loose NANP shape: optional +1, separators, 10 digits.
	phoneRe  = regexp.MustCompile(`(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	domainRe = regexp.MustCompile(`\b(?:[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?\.)+(?:com|net|org|io|co|shop|store|biz|us|ca|uk)\b`)
	// Anchor hrefs pointing at allow-listed social platforms.
	socialRe = regexp.MustCompile(`href=["'](https?://(?:www\.)?(?:facebook|instagram|twitter|x|linkedin|youtube|tiktok|pinterest)\.com/[^"'\s]+)["']`)
)

// Config controls candidate ordering.
type Config struct {
	// PrioritizeWhale puts whale sellers ahead of the revenue ordering.
	PrioritizeWhale bool
}

// Extractor maps storefront parses and raw HTML into contact rows.
type Extractor struct {
	st   store.Store
	orch *crawl.Orchestrator
	cfg  Config
}

// New creates an Extractor.
func New(st store.Store, orch *crawl.Orchestrator, cfg Config) *Extractor {
	return &Extractor{st: st, orch: orch, cfg: cfg}
}

// Candidates returns up to limit sellers whose storefront has not been
// parsed, whales first when configured, then by estimated revenue.
func (e *Extractor) Candidates(ctx context.Context, limit int) ([]model.Seller, error) {
	return e.st.ListParseCandidates(ctx, limit, e.cfg.PrioritizeWhale)
}

// ParseResult summarizes one storefront parse.
type ParseResult struct {
	SellerID         int64 `json:"seller_id"`
	ContactsInserted int   `json:"contacts_inserted"`
	Parsed           bool  `json:"parsed"`
}

// ParseStorefront dispatches a storefront_parse job for the seller, maps the
// returned fields into contact rows, and marks the seller parsed. The parsed
// flag is set exactly once, whether or not the job succeeded, so a dead
// storefront is never retried on the next batch.
func (e *Extractor) ParseStorefront(ctx context.Context, seller model.Seller) (*ParseResult, error) {
	result := &ParseResult{SellerID: seller.ID}

	job, err := e.orch.CreateJob(ctx, model.JobStorefrontParse, formatID(seller.ID))
	if err != nil {
		return nil, err
	}
	res, runErr := e.orch.RunJob(ctx, job.ID)

	if markErr := e.st.MarkStorefrontParsed(ctx, seller.ID); markErr != nil {
		zap.L().Error("contacts: marking storefront parsed failed",
			zap.Int64("seller_id", seller.ID), zap.Error(markErr))
	} else {
		result.Parsed = true
	}
	if runErr != nil {
		return result, runErr
	}

	inserted, err := e.saveContacts(ctx, seller.ID, contactsFromPage(seller.ID, res.Storefront))
	if err != nil {
		return result, err
	}
	result.ContactsInserted = inserted
	return result, nil
}

// ExtractFromHTML runs the manual extraction path over raw HTML already in
// hand and persists whatever validates.
func (e *Extractor) ExtractFromHTML(ctx context.Context, sellerID int64, html string) (int, error) {
	if strings.TrimSpace(html) == "" {
		return 0, eris.New("contacts: empty HTML")
	}
	return e.saveContacts(ctx, sellerID, ExtractContacts(sellerID, html))
}

// saveContacts dedups the batch, drops values failing their type rule, and
// upserts the remainder. Returns the number of newly inserted rows.
func (e *Extractor) saveContacts(ctx context.Context, sellerID int64, batch []model.Contact) (int, error) {
	deduped := dedupeBatch(batch)
	if len(deduped) == 0 {
		return 0, nil
	}
	inserted, err := e.st.UpsertContacts(ctx, deduped)
	if err != nil {
		return 0, err
	}
	zap.L().Debug("contacts: batch saved",
		zap.Int64("seller_id", sellerID),
		zap.Int("candidates", len(batch)),
		zap.Int64("inserted", inserted))
	return int(inserted), nil
}

// BatchSummary aggregates one parse batch.
type BatchSummary struct {
	SellersProcessed int `json:"sellers_processed"`
	ParsesFailed     int `json:"parses_failed"`
	ContactsInserted int `json:"contacts_inserted"`
}

// RunBatch parses up to limit candidate storefronts sequentially. A failed
// parse is counted and the batch continues; the seller is still marked
// parsed so it is not reselected.
func (e *Extractor) RunBatch(ctx context.Context, limit int) (*BatchSummary, error) {
	sellers, err := e.Candidates(ctx, limit)
	if err != nil {
		return nil, err
	}
	summary := &BatchSummary{SellersProcessed: len(sellers)}
	for _, seller := range sellers {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := e.ParseStorefront(ctx, seller)
		if err != nil {
			summary.ParsesFailed++
			continue
		}
		summary.ContactsInserted += res.ContactsInserted
	}
	zap.L().Info("contacts: batch done",
		zap.Int("sellers", summary.SellersProcessed),
		zap.Int("failed", summary.ParsesFailed),
		zap.Int("inserted", summary.ContactsInserted))
	return summary, nil
}

// contactsFromPage maps a parsed storefront page into contact rows.
func contactsFromPage(sellerID int64, page *marketdata.StorefrontPage) []model.Contact {
	if page == nil {
		return nil
	}
	var out []model.Contact
	for _, v := range page.Emails {
		out = append(out, contact(sellerID, model.ContactEmail, strings.ToLower(strings.TrimSpace(v))))
	}
	for _, v := range page.Phones {
		out = append(out, contact(sellerID, model.ContactPhone, strings.TrimSpace(v)))
	}
	for _, v := range page.ExternalDomains {
		out = append(out, contact(sellerID, model.ContactDomain, model.CleanDomain(v)))
	}
	if page.HTML != "" {
		out = append(out, ExtractContacts(sellerID, page.HTML)...)
	}
	return out
}

// ExtractContacts scans raw HTML for emails, NANP-style phone numbers, bare
// domains and allow-listed social links. Values are normalized but not yet
// validated or deduplicated.
func ExtractContacts(sellerID int64, html string) []model.Contact {
	var out []model.Contact
	for _, v := range emailRe.FindAllString(html, -1) {
		out = append(out, contact(sellerID, model.ContactEmail, strings.ToLower(v)))
	}
	for _, v := range phoneRe.FindAllString(html, -1) {
		out = append(out, contact(sellerID, model.ContactPhone, v))
	}
	for _, v := range domainRe.FindAllString(strings.ToLower(html), -1) {
		out = append(out, contact(sellerID, model.ContactDomain, model.CleanDomain(v)))
	}
	for _, m := range socialRe.FindAllStringSubmatch(html, -1) {
		out = append(out, contact(sellerID, model.ContactSocial, m[1]))
	}
	return out
}

func contact(sellerID int64, t model.ContactType, value string) model.Contact {
	return model.Contact{
		SellerID: sellerID,
		Type:     t,
		Value:    value,
		Source:   model.SourceStorefront,
	}
}

// dedupeBatch drops duplicate (type, value) pairs within one batch and
// values that fail their type-specific validation rule.
func dedupeBatch(batch []model.Contact) []model.Contact {
	type key struct {
		t model.ContactType
		v string
	}
	seen := make(map[key]bool, len(batch))
	out := make([]model.Contact, 0, len(batch))
	for _, c := range batch {
		k := key{c.Type, c.Value}
		if seen[k] || !model.ValidContactValue(c.Type, c.Value) {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// Outreach score weights. The score ranks leads for reporting only.
const (
	revenueCap       = 40.0
	revenuePerPoint  = 5000.0
	contactCap       = 30.0
	contactPerPoint  = 5.0
	verifiedBonus    = 15.0
	diversityPerType = 7.5
)

// OutreachScore ranks a seller for outreach: capped revenue term, capped
// contact-count term, a bonus for any verified contact, and a diversity
// bonus for each of email and phone presence.
func OutreachScore(seller model.Seller, contacts []model.Contact) float64 {
	score := math.Min(seller.TotalEstRevenue/revenuePerPoint, revenueCap)
	score += math.Min(float64(len(contacts))*contactPerPoint, contactCap)

	var hasVerified, hasEmail, hasPhone bool
	for _, c := range contacts {
		hasVerified = hasVerified || c.Verified
		hasEmail = hasEmail || c.Type == model.ContactEmail
		hasPhone = hasPhone || c.Type == model.ContactPhone
	}
	if hasVerified {
		score += verifiedBonus
	}
	if hasEmail {
		score += diversityPerType
	}
	if hasPhone {
		score += diversityPerType
	}
	return score
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
