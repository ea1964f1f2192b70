package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sellerscout/internal/db"
	"github.com/sells-group/sellerscout/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for subsystems that need direct query
// access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS products (
	id              BIGSERIAL PRIMARY KEY,
	external_id     TEXT NOT NULL UNIQUE,
	category        TEXT NOT NULL DEFAULT '',
	price           DOUBLE PRECISION,
	rank            INTEGER,
	est_units       BIGINT,
	est_revenue     DOUBLE PRECISION,
	is_top_tier     BOOLEAN NOT NULL DEFAULT false,
	next_refresh_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id             TEXT PRIMARY KEY,
	job_type       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	target_ref     TEXT NOT NULL DEFAULT '',
	cost_credits   DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	result_summary TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sellers (
	id                BIGSERIAL PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL DEFAULT '',
	normalized_url    TEXT NOT NULL UNIQUE,
	rating            DOUBLE PRECISION,
	listings_count    INTEGER,
	total_est_revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_whale          BOOLEAN NOT NULL DEFAULT false,
	storefront_parsed BOOLEAN NOT NULL DEFAULT false,
	total_contacts    INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS product_seller_links (
	product_id        BIGINT NOT NULL REFERENCES products(id),
	seller_id         BIGINT NOT NULL REFERENCES sellers(id),
	is_primary_seller BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (product_id, seller_id)
);

CREATE TABLE IF NOT EXISTS seller_contacts (
	id         BIGSERIAL PRIMARY KEY,
	seller_id  BIGINT NOT NULL REFERENCES sellers(id),
	type       TEXT NOT NULL,
	value      TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	verified   BOOLEAN NOT NULL DEFAULT false,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (seller_id, type, value)
);

CREATE TABLE IF NOT EXISTS seller_storefronts (
	seller_id        BIGINT PRIMARY KEY REFERENCES sellers(id),
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	keywords         JSONB NOT NULL DEFAULT '[]',
	external_domains JSONB NOT NULL DEFAULT '[]',
	parsed_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS domain_records (
	domain           TEXT PRIMARY KEY,
	whois_data       JSONB,
	registrant_email TEXT NOT NULL DEFAULT '',
	registrant_phone TEXT NOT NULL DEFAULT '',
	company_name     TEXT NOT NULL DEFAULT '',
	enriched_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS domain_enrichment_attempts (
	domain       TEXT PRIMARY KEY,
	succeeded    BOOLEAN NOT NULL,
	cost_usd     DOUBLE PRECISION NOT NULL DEFAULT 0,
	attempted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS provider_usage (
	provider TEXT NOT NULL,
	day      TEXT NOT NULL,
	calls    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (provider, day)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL,
	processed    INTEGER NOT NULL DEFAULT 0,
	succeeded    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	cost_usd     DOUBLE PRECISION NOT NULL DEFAULT 0,
	detail       TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);
CREATE INDEX IF NOT EXISTS idx_products_top_tier ON products(is_top_tier) WHERE is_top_tier;
CREATE INDEX IF NOT EXISTS idx_products_refresh ON products(next_refresh_at);
CREATE INDEX IF NOT EXISTS idx_crawl_jobs_status ON crawl_jobs(status);
CREATE INDEX IF NOT EXISTS idx_sellers_parsed ON sellers(storefront_parsed) WHERE NOT storefront_parsed;
CREATE INDEX IF NOT EXISTS idx_contacts_seller ON seller_contacts(seller_id);
`

// Migrate applies the schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const productColumns = `id, external_id, category, price, rank, est_units, est_revenue, is_top_tier, next_refresh_at, created_at, updated_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.ExternalID, &p.Category, &p.Price, &p.Rank,
		&p.EstUnits, &p.EstRevenue, &p.IsTopTier, &p.NextRefreshAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProducts(rows pgx.Rows) ([]model.Product, error) {
	defer rows.Close()
	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			// Reject malformed rows instead of trusting them; the batch
			// continues with the rest.
			zap.L().Warn("postgres: skipping malformed product row", zap.Error(err))
			continue
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpsertProducts bulk-upserts products keyed by external_id.
func (s *PostgresStore) UpsertProducts(ctx context.Context, products []model.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(products))
	for i, p := range products {
		rows[i] = []any{p.ExternalID, p.Category, p.Price, p.Rank}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "products",
		Columns:      []string{"external_id", "category", "price", "rank"},
		ConflictKeys: []string{"external_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert products")
	}
	return n, nil
}

// ListEstimableProducts pages products carrying both price and rank, ordered
// by id for stable chunking.
func (s *PostgresStore) ListEstimableProducts(ctx context.Context, afterID int64, limit int) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE price IS NOT NULL AND rank IS NOT NULL AND id > $1
		 ORDER BY id LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list estimable products")
	}
	return collectProducts(rows)
}

// UpdateEstimates writes recomputed units/revenue for a chunk of products.
func (s *PostgresStore) UpdateEstimates(ctx context.Context, updates []EstimateUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: update estimates: begin")
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if _, err := tx.Exec(ctx,
			`UPDATE products SET est_units = $2, est_revenue = $3, updated_at = now() WHERE id = $1`,
			u.ProductID, u.Units, u.Revenue); err != nil {
			return eris.Wrapf(err, "postgres: update estimate for product %d", u.ProductID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: update estimates: commit")
}

// ListCategories returns the distinct product categories.
func (s *PostgresStore) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT category FROM products WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCategoryByRevenue returns a category's products ordered by estimated
// revenue descending with a stable id tie-break.
func (s *PostgresStore) ListCategoryByRevenue(ctx context.Context, category string) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE category = $1 AND est_revenue IS NOT NULL
		 ORDER BY est_revenue DESC, id ASC`,
		category)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list category %s by revenue", category)
	}
	return collectProducts(rows)
}

// SetTopTier flags exactly topIDs within a category and unflags the rest.
func (s *PostgresStore) SetTopTier(ctx context.Context, category string, topIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: set top tier: begin")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE products SET is_top_tier = false, updated_at = now() WHERE category = $1 AND is_top_tier`,
		category); err != nil {
		return eris.Wrapf(err, "postgres: unflag category %s", category)
	}
	if len(topIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE products SET is_top_tier = true, updated_at = now() WHERE id = ANY($1)`,
			topIDs); err != nil {
			return eris.Wrapf(err, "postgres: flag top tier in category %s", category)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: set top tier: commit")
}

// ListStaleProducts selects products due for a refresh.
func (s *PostgresStore) ListStaleProducts(ctx context.Context, now time.Time, limit int) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE next_refresh_at IS NOT NULL AND next_refresh_at <= $1
		 ORDER BY next_refresh_at LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale products")
	}
	return collectProducts(rows)
}

// AdvanceRefresh moves next_refresh_at forward for the given products.
func (s *PostgresStore) AdvanceRefresh(ctx context.Context, ids []int64, next time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE products SET next_refresh_at = $2, updated_at = now() WHERE id = ANY($1)`,
		ids, next)
	return eris.Wrap(err, "postgres: advance refresh")
}

// SelectUnprocessedTopTier returns top-tier products with no seller link yet,
// optionally filtered by revenue bucket.
func (s *PostgresStore) SelectUnprocessedTopTier(ctx context.Context, limit int, bucket model.RevenueBucket) ([]model.Product, error) {
	if !model.ValidBucket(bucket) {
		return nil, eris.Errorf("postgres: unknown revenue bucket %q", bucket)
	}

	q := `SELECT ` + productColumns + ` FROM products p
		 WHERE p.is_top_tier
		   AND NOT EXISTS (SELECT 1 FROM product_seller_links l WHERE l.product_id = p.id)`
	switch bucket {
	case model.BucketHigh:
		q += ` AND p.est_revenue >= 50000`
	case model.BucketMedium:
		q += ` AND p.est_revenue >= 10000 AND p.est_revenue < 50000`
	case model.BucketLow:
		q += ` AND p.est_revenue < 10000`
	}
	q += ` ORDER BY p.est_revenue DESC NULLS LAST, p.id LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select unprocessed top tier")
	}
	return collectProducts(rows)
}

// GetProduct fetches one product by id.
func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("postgres: product %d not found", id)
		}
		return nil, eris.Wrapf(err, "postgres: get product %d", id)
	}
	return p, nil
}

// CreateJob persists a pending crawl job and returns it.
func (s *PostgresStore) CreateJob(ctx context.Context, jobType model.JobType, targetRef string) (*model.CrawlJob, error) {
	if !model.ValidJobType(jobType) {
		return nil, eris.Errorf("postgres: unknown job type %q", jobType)
	}
	job := &model.CrawlJob{
		ID:        uuid.NewString(),
		JobType:   jobType,
		Status:    model.JobPending,
		TargetRef: targetRef,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_jobs (id, job_type, status, target_ref, created_at) VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.JobType, job.Status, job.TargetRef, job.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create job")
	}
	return job, nil
}

// GetJob fetches one crawl job.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.CrawlJob, error) {
	var j model.CrawlJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_type, status, target_ref, cost_credits, error_message, result_summary, created_at, started_at, completed_at
		 FROM crawl_jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.JobType, &j.Status, &j.TargetRef, &j.CostCredits,
			&j.ErrorMessage, &j.ResultSummary, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("postgres: job %s not found", id)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return &j, nil
}

// StartJob transitions pending -> running. The WHERE clause enforces the
// state machine; a zero row count means the job was missing or not pending.
func (s *PostgresStore) StartJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs SET status = 'running', started_at = now() WHERE id = $1 AND status = 'pending'`,
		id)
	if err != nil {
		return eris.Wrapf(err, "postgres: start job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s is not pending", id)
	}
	return nil
}

// CompleteJob transitions running -> completed, recording cost and summary.
func (s *PostgresStore) CompleteJob(ctx context.Context, id string, summary string, costUSD float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs SET status = 'completed', result_summary = $2, cost_credits = $3, completed_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, summary, costUSD)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s is not running", id)
	}
	return nil
}

// FailJob transitions running -> failed, recording cost and the error.
func (s *PostgresStore) FailJob(ctx context.Context, id string, errMsg string, costUSD float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs SET status = 'failed', error_message = $2, cost_credits = $3, completed_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, errMsg, costUSD)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s is not running", id)
	}
	return nil
}

// UpsertSeller inserts a seller keyed by normalized URL, updating descriptive
// fields on conflict. The uniqueness constraint is the dedup backstop for
// concurrent discoveries of the same URL; created reports whether this call
// inserted the row.
func (s *PostgresStore) UpsertSeller(ctx context.Context, sl model.Seller) (int64, bool, error) {
	if sl.NormalizedURL == "" {
		sl.NormalizedURL = model.NormalizeSellerURL(sl.URL)
	}
	if sl.NormalizedURL == "" {
		return 0, false, eris.New("postgres: seller has no URL")
	}

	var id int64
	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sellers (name, url, normalized_url, rating, listings_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (normalized_url) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), sellers.name),
			rating = COALESCE(EXCLUDED.rating, sellers.rating),
			listings_count = COALESCE(EXCLUDED.listings_count, sellers.listings_count),
			updated_at = now()
		 RETURNING id, (xmax = 0)`,
		sl.Name, sl.URL, sl.NormalizedURL, sl.Rating, sl.ListingsCount).
		Scan(&id, &created)
	if err != nil {
		return 0, false, eris.Wrapf(err, "postgres: upsert seller %s", sl.NormalizedURL)
	}
	return id, created, nil
}

const sellerColumns = `id, name, url, normalized_url, rating, listings_count, total_est_revenue, is_whale, storefront_parsed, total_contacts, created_at, updated_at`

func scanSeller(row pgx.Row) (*model.Seller, error) {
	var sl model.Seller
	err := row.Scan(&sl.ID, &sl.Name, &sl.URL, &sl.NormalizedURL, &sl.Rating,
		&sl.ListingsCount, &sl.TotalEstRevenue, &sl.IsWhale, &sl.StorefrontParsed,
		&sl.TotalContacts, &sl.CreatedAt, &sl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sl, nil
}

func collectSellers(rows pgx.Rows) ([]model.Seller, error) {
	defer rows.Close()
	var out []model.Seller
	for rows.Next() {
		sl, err := scanSeller(rows)
		if err != nil {
			zap.L().Warn("postgres: skipping malformed seller row", zap.Error(err))
			continue
		}
		out = append(out, *sl)
	}
	return out, rows.Err()
}

// GetSeller fetches one seller.
func (s *PostgresStore) GetSeller(ctx context.Context, id int64) (*model.Seller, error) {
	sl, err := scanSeller(s.pool.QueryRow(ctx,
		`SELECT `+sellerColumns+` FROM sellers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("postgres: seller %d not found", id)
		}
		return nil, eris.Wrapf(err, "postgres: get seller %d", id)
	}
	return sl, nil
}

// LinkProductSeller idempotently upserts a product-seller link.
func (s *PostgresStore) LinkProductSeller(ctx context.Context, link model.ProductSellerLink) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO product_seller_links (product_id, seller_id, is_primary_seller)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (product_id, seller_id) DO UPDATE SET
			is_primary_seller = product_seller_links.is_primary_seller OR EXCLUDED.is_primary_seller`,
		link.ProductID, link.SellerID, link.IsPrimarySeller)
	return eris.Wrapf(err, "postgres: link product %d to seller %d", link.ProductID, link.SellerID)
}

// MarkStorefrontParsed records that a seller's storefront was processed.
// Called exactly once per parse, regardless of outcome, so empty results do
// not loop.
func (s *PostgresStore) MarkStorefrontParsed(ctx context.Context, sellerID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sellers SET storefront_parsed = true, updated_at = now() WHERE id = $1`,
		sellerID)
	return eris.Wrapf(err, "postgres: mark storefront parsed for seller %d", sellerID)
}

// ListParseCandidates returns sellers awaiting a storefront parse.
func (s *PostgresStore) ListParseCandidates(ctx context.Context, limit int, prioritizeWhale bool) ([]model.Seller, error) {
	order := `total_est_revenue DESC, id`
	if prioritizeWhale {
		order = `is_whale DESC, ` + order
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sellerColumns+` FROM sellers WHERE NOT storefront_parsed ORDER BY `+order+` LIMIT $1`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list parse candidates")
	}
	return collectSellers(rows)
}

// ListEnrichmentCandidates returns contact-poor, high-revenue sellers.
func (s *PostgresStore) ListEnrichmentCandidates(ctx context.Context, minRevenue float64, maxContacts, limit int) ([]model.Seller, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sellerColumns+` FROM sellers
		 WHERE total_est_revenue >= $1 AND total_contacts < $2
		 ORDER BY total_est_revenue DESC, id LIMIT $3`,
		minRevenue, maxContacts, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enrichment candidates")
	}
	return collectSellers(rows)
}

// ResyncSellerMetrics recomputes the derived seller aggregates. The whale
// threshold comes from policy, not from this store.
func (s *PostgresStore) ResyncSellerMetrics(ctx context.Context, policy MetricsPolicy) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: resync metrics: begin")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE sellers SET total_est_revenue = COALESCE((
			SELECT SUM(p.est_revenue) FROM product_seller_links l
			JOIN products p ON p.id = l.product_id
			WHERE l.seller_id = sellers.id), 0)`); err != nil {
		return eris.Wrap(err, "postgres: resync revenue")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sellers SET is_whale = (total_est_revenue >= $1)`,
		policy.WhaleThreshold); err != nil {
		return eris.Wrap(err, "postgres: resync whale flags")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sellers SET total_contacts = (
			SELECT COUNT(*) FROM seller_contacts c WHERE c.seller_id = sellers.id)`); err != nil {
		return eris.Wrap(err, "postgres: resync contact counts")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sellers SET updated_at = now()`); err != nil {
		return eris.Wrap(err, "postgres: resync timestamps")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: resync metrics: commit")
}

// UpsertContacts inserts contact rows, enforcing the (seller_id, type, value)
// uniqueness invariant. verified only ever transitions false -> true and
// confidence never decreases. Returns the number of newly inserted rows.
func (s *PostgresStore) UpsertContacts(ctx context.Context, contacts []model.Contact) (int64, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert contacts: begin")
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for _, c := range contacts {
		if !model.ValidContactValue(c.Type, c.Value) {
			// ValidationError: skip the item, continue the batch.
			zap.L().Debug("postgres: skipping invalid contact",
				zap.Int64("seller_id", c.SellerID),
				zap.String("type", string(c.Type)))
			continue
		}
		var isNew bool
		err := tx.QueryRow(ctx,
			`INSERT INTO seller_contacts (seller_id, type, value, source, verified, confidence)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (seller_id, type, value) DO UPDATE SET
				verified = seller_contacts.verified OR EXCLUDED.verified,
				confidence = GREATEST(seller_contacts.confidence, EXCLUDED.confidence)
			 RETURNING (xmax = 0)`,
			c.SellerID, c.Type, c.Value, c.Source, c.Verified, c.Confidence).
			Scan(&isNew)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert contact for seller %d", c.SellerID)
		}
		if isNew {
			inserted++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert contacts: commit")
	}
	return inserted, nil
}

// ListSellerContacts returns a seller's contacts.
func (s *PostgresStore) ListSellerContacts(ctx context.Context, sellerID int64) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seller_id, type, value, source, verified, confidence, created_at
		 FROM seller_contacts WHERE seller_id = $1 ORDER BY type, value`,
		sellerID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list contacts for seller %d", sellerID)
	}
	defer rows.Close()
	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.SellerID, &c.Type, &c.Value, &c.Source,
			&c.Verified, &c.Confidence, &c.CreatedAt); err != nil {
			zap.L().Warn("postgres: skipping malformed contact row", zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveStorefront upserts the business-info blob for a seller.
func (s *PostgresStore) SaveStorefront(ctx context.Context, sf model.Storefront) error {
	keywords, err := json.Marshal(sf.Keywords)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal keywords")
	}
	domains, err := json.Marshal(sf.ExternalDomains)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal external domains")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO seller_storefronts (seller_id, title, description, keywords, external_domains, parsed_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (seller_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			keywords = EXCLUDED.keywords,
			external_domains = EXCLUDED.external_domains,
			parsed_at = now()`,
		sf.SellerID, sf.Title, sf.Description, keywords, domains)
	return eris.Wrapf(err, "postgres: save storefront for seller %d", sf.SellerID)
}

// ListCandidateDomains returns domains surfaced by contacts or storefronts
// with no enrichment attempt yet.
func (s *PostgresStore) ListCandidateDomains(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT d.domain FROM (
			SELECT value AS domain FROM seller_contacts WHERE type = 'domain'
			UNION
			SELECT jsonb_array_elements_text(external_domains) FROM seller_storefronts
		 ) d
		 WHERE d.domain NOT IN (SELECT domain FROM domain_records)
		   AND d.domain NOT IN (SELECT domain FROM domain_enrichment_attempts)
		 ORDER BY d.domain LIMIT $1`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidate domains")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate domain")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordDomainAttempt records that enrichment was attempted for a domain.
// The primary key makes the attempt at-most-once; failures are not retried.
func (s *PostgresStore) RecordDomainAttempt(ctx context.Context, domain string, succeeded bool, costUSD float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO domain_enrichment_attempts (domain, succeeded, cost_usd)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (domain) DO NOTHING`,
		domain, succeeded, costUSD)
	return eris.Wrapf(err, "postgres: record domain attempt %s", domain)
}

// UpsertDomainRecord writes the enrichment result for a domain.
func (s *PostgresStore) UpsertDomainRecord(ctx context.Context, rec model.DomainRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO domain_records (domain, whois_data, registrant_email, registrant_phone, company_name, enriched_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (domain) DO UPDATE SET
			whois_data = EXCLUDED.whois_data,
			registrant_email = EXCLUDED.registrant_email,
			registrant_phone = EXCLUDED.registrant_phone,
			company_name = EXCLUDED.company_name,
			enriched_at = now()`,
		rec.Domain, rec.WhoisData, rec.RegistrantEmail, rec.RegistrantPhone, rec.CompanyName)
	return eris.Wrapf(err, "postgres: upsert domain record %s", rec.Domain)
}

// SellersForDomain returns sellers linked to a domain via a domain contact
// or a storefront external-domain list.
func (s *PostgresStore) SellersForDomain(ctx context.Context, domain string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT seller_id FROM (
			SELECT seller_id FROM seller_contacts WHERE type = 'domain' AND value = $1
			UNION
			SELECT seller_id FROM seller_storefronts WHERE external_domains @> jsonb_build_array($1::text)
		 ) x ORDER BY seller_id`,
		domain)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: sellers for domain %s", domain)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan seller id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ProviderUsage returns the call count for a provider on a given day.
func (s *PostgresStore) ProviderUsage(ctx context.Context, provider string, day time.Time) (int, error) {
	var calls int
	err := s.pool.QueryRow(ctx,
		`SELECT calls FROM provider_usage WHERE provider = $1 AND day = $2`,
		provider, usageDay(day)).Scan(&calls)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "postgres: provider usage %s", provider)
	}
	return calls, nil
}

// IncrementProviderUsage bumps a provider's daily call counter.
func (s *PostgresStore) IncrementProviderUsage(ctx context.Context, provider string, day time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_usage (provider, day, calls) VALUES ($1, $2, 1)
		 ON CONFLICT (provider, day) DO UPDATE SET calls = provider_usage.calls + 1`,
		provider, usageDay(day))
	return eris.Wrapf(err, "postgres: increment usage %s", provider)
}

// RecordRun persists a batch run summary.
func (s *PostgresStore) RecordRun(ctx context.Context, run model.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, stage, status, processed, succeeded, failed, cost_usd, detail, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Stage, run.Status, run.Processed, run.Succeeded, run.Failed,
		run.CostUSD, run.Detail, run.StartedAt, run.CompletedAt)
	return eris.Wrap(err, "postgres: record run")
}

// ListLeads returns sellers carrying at least one contact, ordered by whale
// flag then revenue, with their contacts attached.
func (s *PostgresStore) ListLeads(ctx context.Context, limit int) ([]Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sellerColumns+` FROM sellers
		 WHERE total_contacts > 0
		 ORDER BY is_whale DESC, total_est_revenue DESC, id LIMIT $1`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	sellers, err := collectSellers(rows)
	if err != nil {
		return nil, err
	}

	leads := make([]Lead, 0, len(sellers))
	for _, sl := range sellers {
		contacts, err := s.ListSellerContacts(ctx, sl.ID)
		if err != nil {
			return nil, err
		}
		leads = append(leads, Lead{Seller: sl, Contacts: contacts})
	}
	return leads, nil
}
