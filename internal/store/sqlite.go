package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sellerscout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local
// single-process driver; the read-then-write paths that Postgres resolves
// with ON CONFLICT are serialized by the single connection here.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	sqlDB.SetMaxOpenConns(1)
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS products (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id     TEXT NOT NULL UNIQUE,
	category        TEXT NOT NULL DEFAULT '',
	price           REAL,
	rank            INTEGER,
	est_units       INTEGER,
	est_revenue     REAL,
	is_top_tier     INTEGER NOT NULL DEFAULT 0,
	next_refresh_at DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id             TEXT PRIMARY KEY,
	job_type       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	target_ref     TEXT NOT NULL DEFAULT '',
	cost_credits   REAL NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	result_summary TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at     DATETIME,
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS sellers (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL DEFAULT '',
	normalized_url    TEXT NOT NULL UNIQUE,
	rating            REAL,
	listings_count    INTEGER,
	total_est_revenue REAL NOT NULL DEFAULT 0,
	is_whale          INTEGER NOT NULL DEFAULT 0,
	storefront_parsed INTEGER NOT NULL DEFAULT 0,
	total_contacts    INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS product_seller_links (
	product_id        INTEGER NOT NULL REFERENCES products(id),
	seller_id         INTEGER NOT NULL REFERENCES sellers(id),
	is_primary_seller INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (product_id, seller_id)
);

CREATE TABLE IF NOT EXISTS seller_contacts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	seller_id  INTEGER NOT NULL REFERENCES sellers(id),
	type       TEXT NOT NULL,
	value      TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	verified   INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (seller_id, type, value)
);

CREATE TABLE IF NOT EXISTS seller_storefronts (
	seller_id        INTEGER PRIMARY KEY REFERENCES sellers(id),
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	keywords         TEXT NOT NULL DEFAULT '[]',
	external_domains TEXT NOT NULL DEFAULT '[]',
	parsed_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS domain_records (
	domain           TEXT PRIMARY KEY,
	whois_data       TEXT,
	registrant_email TEXT NOT NULL DEFAULT '',
	registrant_phone TEXT NOT NULL DEFAULT '',
	company_name     TEXT NOT NULL DEFAULT '',
	enriched_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS domain_enrichment_attempts (
	domain       TEXT PRIMARY KEY,
	succeeded    INTEGER NOT NULL,
	cost_usd     REAL NOT NULL DEFAULT 0,
	attempted_at DATETIME NOT NULL DEFAULT (datetime('now'))
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
	cost_usd     REAL NOT NULL DEFAULT 0,
	detail       TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);
CREATE INDEX IF NOT EXISTS idx_products_refresh ON products(next_refresh_at);
CREATE INDEX IF NOT EXISTS idx_crawl_jobs_status ON crawl_jobs(status);
CREATE INDEX IF NOT EXISTS idx_contacts_seller ON seller_contacts(seller_id);
`

// Migrate applies the schema. Idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteProductColumns = `id, external_id, category, price, rank, est_units, est_revenue, is_top_tier, next_refresh_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func sqliteScanProduct(row rowScanner) (*model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.ExternalID, &p.Category, &p.Price, &p.Rank,
		&p.EstUnits, &p.EstRevenue, &p.IsTopTier, &p.NextRefreshAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func sqliteCollectProducts(rows *sql.Rows) ([]model.Product, error) {
	defer rows.Close()
	var out []model.Product
	for rows.Next() {
		p, err := sqliteScanProduct(rows)
		if err != nil {
			zap.L().Warn("sqlite: skipping malformed product row", zap.Error(err))
			continue
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpsertProducts upserts products keyed by external_id.
func (s *SQLiteStore) UpsertProducts(ctx context.Context, products []model.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert products: begin")
	}
	defer tx.Rollback()

	var n int64
	for _, p := range products {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO products (external_id, category, price, rank)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (external_id) DO UPDATE SET
				category = excluded.category,
				price = excluded.price,
				rank = excluded.rank,
				updated_at = datetime('now')`,
			p.ExternalID, p.Category, p.Price, p.Rank)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert product %s", p.ExternalID)
		}
		if rows, _ := res.RowsAffected(); rows > 0 {
			n += rows
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert products: commit")
	}
	return n, nil
}

// ListEstimableProducts pages products carrying both price and rank.
func (s *SQLiteStore) ListEstimableProducts(ctx context.Context, afterID int64, limit int) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteProductColumns+` FROM products
		 WHERE price IS NOT NULL AND rank IS NOT NULL AND id > ?
		 ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list estimable products")
	}
	return sqliteCollectProducts(rows)
}

// UpdateEstimates writes recomputed units/revenue for a chunk of products.
func (s *SQLiteStore) UpdateEstimates(ctx context.Context, updates []EstimateUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: update estimates: begin")
	}
	defer tx.Rollback()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET est_units = ?, est_revenue = ?, updated_at = datetime('now') WHERE id = ?`,
			u.Units, u.Revenue, u.ProductID); err != nil {
			return eris.Wrapf(err, "sqlite: update estimate for product %d", u.ProductID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: update estimates: commit")
}

// ListCategories returns the distinct product categories.
func (s *SQLiteStore) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM products WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCategoryByRevenue returns a category's products by revenue descending.
func (s *SQLiteStore) ListCategoryByRevenue(ctx context.Context, category string) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteProductColumns+` FROM products
		 WHERE category = ? AND est_revenue IS NOT NULL
		 ORDER BY est_revenue DESC, id ASC`,
		category)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list category %s by revenue", category)
	}
	return sqliteCollectProducts(rows)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// SetTopTier flags exactly topIDs within a category and unflags the rest.
func (s *SQLiteStore) SetTopTier(ctx context.Context, category string, topIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: set top tier: begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE products SET is_top_tier = 0, updated_at = datetime('now') WHERE category = ? AND is_top_tier`,
		category); err != nil {
		return eris.Wrapf(err, "sqlite: unflag category %s", category)
	}
	if len(topIDs) > 0 {
		q := fmt.Sprintf(
			`UPDATE products SET is_top_tier = 1, updated_at = datetime('now') WHERE id IN (%s)`,
			placeholders(len(topIDs)))
		if _, err := tx.ExecContext(ctx, q, int64Args(topIDs)...); err != nil {
			return eris.Wrapf(err, "sqlite: flag top tier in category %s", category)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: set top tier: commit")
}

// ListStaleProducts selects products due for a refresh.
func (s *SQLiteStore) ListStaleProducts(ctx context.Context, now time.Time, limit int) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteProductColumns+` FROM products
		 WHERE next_refresh_at IS NOT NULL AND next_refresh_at <= ?
		 ORDER BY next_refresh_at LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale products")
	}
	return sqliteCollectProducts(rows)
}

// AdvanceRefresh moves next_refresh_at forward for the given products.
func (s *SQLiteStore) AdvanceRefresh(ctx context.Context, ids []int64, next time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(
		`UPDATE products SET next_refresh_at = ?, updated_at = datetime('now') WHERE id IN (%s)`,
		placeholders(len(ids)))
	args := append([]any{next.UTC()}, int64Args(ids)...)
	_, err := s.db.ExecContext(ctx, q, args...)
	return eris.Wrap(err, "sqlite: advance refresh")
}

// SelectUnprocessedTopTier returns top-tier products with no seller link.
func (s *SQLiteStore) SelectUnprocessedTopTier(ctx context.Context, limit int, bucket model.RevenueBucket) ([]model.Product, error) {
	if !model.ValidBucket(bucket) {
		return nil, eris.Errorf("sqlite: unknown revenue bucket %q", bucket)
	}

	q := `SELECT ` + sqliteProductColumns + ` FROM products p
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
	q += ` ORDER BY p.est_revenue DESC, p.id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select unprocessed top tier")
	}
	return sqliteCollectProducts(rows)
}

// GetProduct fetches one product by id.
func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := sqliteScanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProductColumns+` FROM products WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("sqlite: product %d not found", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get product %d", id)
	}
	return p, nil
}

// CreateJob persists a pending crawl job and returns it.
func (s *SQLiteStore) CreateJob(ctx context.Context, jobType model.JobType, targetRef string) (*model.CrawlJob, error) {
	if !model.ValidJobType(jobType) {
		return nil, eris.Errorf("sqlite: unknown job type %q", jobType)
	}
	job := &model.CrawlJob{
		ID:        uuid.NewString(),
		JobType:   jobType,
		Status:    model.JobPending,
		TargetRef: targetRef,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_jobs (id, job_type, status, target_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.JobType, job.Status, job.TargetRef, job.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create job")
	}
	return job, nil
}

// GetJob fetches one crawl job.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.CrawlJob, error) {
	var j model.CrawlJob
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_type, status, target_ref, cost_credits, error_message, result_summary, created_at, started_at, completed_at
		 FROM crawl_jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.JobType, &j.Status, &j.TargetRef, &j.CostCredits,
			&j.ErrorMessage, &j.ResultSummary, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("sqlite: job %s not found", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return &j, nil
}

// StartJob transitions pending -> running.
func (s *SQLiteStore) StartJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_jobs SET status = 'running', started_at = datetime('now') WHERE id = ? AND status = 'pending'`,
		id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: job %s is not pending", id)
	}
	return nil
}

// CompleteJob transitions running -> completed.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, summary string, costUSD float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_jobs SET status = 'completed', result_summary = ?, cost_credits = ?, completed_at = datetime('now')
		 WHERE id = ? AND status = 'running'`,
		summary, costUSD, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: job %s is not running", id)
	}
	return nil
}

// FailJob transitions running -> failed.
func (s *SQLiteStore) FailJob(ctx context.Context, id string, errMsg string, costUSD float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_jobs SET status = 'failed', error_message = ?, cost_credits = ?, completed_at = datetime('now')
		 WHERE id = ? AND status = 'running'`,
		errMsg, costUSD, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: job %s is not running", id)
	}
	return nil
}

// UpsertSeller inserts or refreshes a seller keyed by normalized URL. The
// single writer serializes the existence check.
func (s *SQLiteStore) UpsertSeller(ctx context.Context, sl model.Seller) (int64, bool, error) {
	if sl.NormalizedURL == "" {
		sl.NormalizedURL = model.NormalizeSellerURL(sl.URL)
	}
	if sl.NormalizedURL == "" {
		return 0, false, eris.New("sqlite: seller has no URL")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: upsert seller: begin")
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM sellers WHERE normalized_url = ?`, sl.NormalizedURL).Scan(&id)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE sellers SET
				name = CASE WHEN ? <> '' THEN ? ELSE name END,
				rating = COALESCE(?, rating),
				listings_count = COALESCE(?, listings_count),
				updated_at = datetime('now')
			 WHERE id = ?`,
			sl.Name, sl.Name, sl.Rating, sl.ListingsCount, id); err != nil {
			return 0, false, eris.Wrapf(err, "sqlite: refresh seller %s", sl.NormalizedURL)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, eris.Wrap(err, "sqlite: upsert seller: commit")
		}
		return id, false, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO sellers (name, url, normalized_url, rating, listings_count) VALUES (?, ?, ?, ?, ?)`,
			sl.Name, sl.URL, sl.NormalizedURL, sl.Rating, sl.ListingsCount)
		if err != nil {
			return 0, false, eris.Wrapf(err, "sqlite: insert seller %s", sl.NormalizedURL)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, false, eris.Wrap(err, "sqlite: seller insert id")
		}
		if err := tx.Commit(); err != nil {
			return 0, false, eris.Wrap(err, "sqlite: upsert seller: commit")
		}
		return id, true, nil
	default:
		return 0, false, eris.Wrapf(err, "sqlite: lookup seller %s", sl.NormalizedURL)
	}
}

const sqliteSellerColumns = `id, name, url, normalized_url, rating, listings_count, total_est_revenue, is_whale, storefront_parsed, total_contacts, created_at, updated_at`

func sqliteScanSeller(row rowScanner) (*model.Seller, error) {
	var sl model.Seller
	err := row.Scan(&sl.ID, &sl.Name, &sl.URL, &sl.NormalizedURL, &sl.Rating,
		&sl.ListingsCount, &sl.TotalEstRevenue, &sl.IsWhale, &sl.StorefrontParsed,
		&sl.TotalContacts, &sl.CreatedAt, &sl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sl, nil
}

func sqliteCollectSellers(rows *sql.Rows) ([]model.Seller, error) {
	defer rows.Close()
	var out []model.Seller
	for rows.Next() {
		sl, err := sqliteScanSeller(rows)
		if err != nil {
			zap.L().Warn("sqlite: skipping malformed seller row", zap.Error(err))
			continue
		}
		out = append(out, *sl)
	}
	return out, rows.Err()
}

// GetSeller fetches one seller.
func (s *SQLiteStore) GetSeller(ctx context.Context, id int64) (*model.Seller, error) {
	sl, err := sqliteScanSeller(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSellerColumns+` FROM sellers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("sqlite: seller %d not found", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get seller %d", id)
	}
	return sl, nil
}

// LinkProductSeller idempotently upserts a product-seller link.
func (s *SQLiteStore) LinkProductSeller(ctx context.Context, link model.ProductSellerLink) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO product_seller_links (product_id, seller_id, is_primary_seller)
		 VALUES (?, ?, ?)
		 ON CONFLICT (product_id, seller_id) DO UPDATE SET
			is_primary_seller = is_primary_seller OR excluded.is_primary_seller`,
		link.ProductID, link.SellerID, link.IsPrimarySeller)
	return eris.Wrapf(err, "sqlite: link product %d to seller %d", link.ProductID, link.SellerID)
}

// MarkStorefrontParsed records that a seller's storefront was processed.
func (s *SQLiteStore) MarkStorefrontParsed(ctx context.Context, sellerID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sellers SET storefront_parsed = 1, updated_at = datetime('now') WHERE id = ?`,
		sellerID)
	return eris.Wrapf(err, "sqlite: mark storefront parsed for seller %d", sellerID)
}

// ListParseCandidates returns sellers awaiting a storefront parse.
func (s *SQLiteStore) ListParseCandidates(ctx context.Context, limit int, prioritizeWhale bool) ([]model.Seller, error) {
	order := `total_est_revenue DESC, id`
	if prioritizeWhale {
		order = `is_whale DESC, ` + order
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSellerColumns+` FROM sellers WHERE NOT storefront_parsed ORDER BY `+order+` LIMIT ?`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list parse candidates")
	}
	return sqliteCollectSellers(rows)
}

// ListEnrichmentCandidates returns contact-poor, high-revenue sellers.
func (s *SQLiteStore) ListEnrichmentCandidates(ctx context.Context, minRevenue float64, maxContacts, limit int) ([]model.Seller, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSellerColumns+` FROM sellers
		 WHERE total_est_revenue >= ? AND total_contacts < ?
		 ORDER BY total_est_revenue DESC, id LIMIT ?`,
		minRevenue, maxContacts, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enrichment candidates")
	}
	return sqliteCollectSellers(rows)
}

// ResyncSellerMetrics recomputes the derived seller aggregates.
func (s *SQLiteStore) ResyncSellerMetrics(ctx context.Context, policy MetricsPolicy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: resync metrics: begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sellers SET total_est_revenue = COALESCE((
			SELECT SUM(p.est_revenue) FROM product_seller_links l
			JOIN products p ON p.id = l.product_id
			WHERE l.seller_id = sellers.id), 0)`); err != nil {
		return eris.Wrap(err, "sqlite: resync revenue")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sellers SET is_whale = (total_est_revenue >= ?)`,
		policy.WhaleThreshold); err != nil {
		return eris.Wrap(err, "sqlite: resync whale flags")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sellers SET total_contacts = (
			SELECT COUNT(*) FROM seller_contacts c WHERE c.seller_id = sellers.id)`); err != nil {
		return eris.Wrap(err, "sqlite: resync contact counts")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sellers SET updated_at = datetime('now')`); err != nil {
		return eris.Wrap(err, "sqlite: resync timestamps")
	}
	return eris.Wrap(tx.Commit(), "sqlite: resync metrics: commit")
}

// UpsertContacts inserts contacts under the (seller_id, type, value)
// uniqueness invariant. Returns the number of newly inserted rows.
func (s *SQLiteStore) UpsertContacts(ctx context.Context, contacts []model.Contact) (int64, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert contacts: begin")
	}
	defer tx.Rollback()

	var inserted int64
	for _, c := range contacts {
		if !model.ValidContactValue(c.Type, c.Value) {
			zap.L().Debug("sqlite: skipping invalid contact",
				zap.Int64("seller_id", c.SellerID),
				zap.String("type", string(c.Type)))
			continue
		}
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM seller_contacts WHERE seller_id = ? AND type = ? AND value = ?`,
			c.SellerID, c.Type, c.Value).Scan(&exists)
		isNew := errors.Is(err, sql.ErrNoRows)
		if err != nil && !isNew {
			return 0, eris.Wrapf(err, "sqlite: contact lookup for seller %d", c.SellerID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO seller_contacts (seller_id, type, value, source, verified, confidence)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (seller_id, type, value) DO UPDATE SET
				verified = verified OR excluded.verified,
				confidence = MAX(confidence, excluded.confidence)`,
			c.SellerID, c.Type, c.Value, c.Source, c.Verified, c.Confidence); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert contact for seller %d", c.SellerID)
		}
		if isNew {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert contacts: commit")
	}
	return inserted, nil
}

// ListSellerContacts returns a seller's contacts.
func (s *SQLiteStore) ListSellerContacts(ctx context.Context, sellerID int64) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seller_id, type, value, source, verified, confidence, created_at
		 FROM seller_contacts WHERE seller_id = ? ORDER BY type, value`,
		sellerID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list contacts for seller %d", sellerID)
	}
	defer rows.Close()
	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.SellerID, &c.Type, &c.Value, &c.Source,
			&c.Verified, &c.Confidence, &c.CreatedAt); err != nil {
			zap.L().Warn("sqlite: skipping malformed contact row", zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveStorefront upserts the business-info blob for a seller.
func (s *SQLiteStore) SaveStorefront(ctx context.Context, sf model.Storefront) error {
	keywords, err := json.Marshal(sf.Keywords)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal keywords")
	}
	domains, err := json.Marshal(sf.ExternalDomains)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal external domains")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO seller_storefronts (seller_id, title, description, keywords, external_domains, parsed_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT (seller_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			keywords = excluded.keywords,
			external_domains = excluded.external_domains,
			parsed_at = datetime('now')`,
		sf.SellerID, sf.Title, sf.Description, string(keywords), string(domains))
	return eris.Wrapf(err, "sqlite: save storefront for seller %d", sf.SellerID)
}

// ListCandidateDomains returns unenriched domains from contacts and
// storefront external-domain lists.
func (s *SQLiteStore) ListCandidateDomains(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT domain FROM (
			SELECT value AS domain FROM seller_contacts WHERE type = 'domain'
			UNION
			SELECT je.value AS domain FROM seller_storefronts ss, json_each(ss.external_domains) je
		 )
		 WHERE domain NOT IN (SELECT domain FROM domain_records)
		   AND domain NOT IN (SELECT domain FROM domain_enrichment_attempts)
		 ORDER BY domain LIMIT ?`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidate domains")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate domain")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordDomainAttempt records an at-most-once enrichment attempt.
func (s *SQLiteStore) RecordDomainAttempt(ctx context.Context, domain string, succeeded bool, costUSD float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domain_enrichment_attempts (domain, succeeded, cost_usd)
		 VALUES (?, ?, ?)
		 ON CONFLICT (domain) DO NOTHING`,
		domain, succeeded, costUSD)
	return eris.Wrapf(err, "sqlite: record domain attempt %s", domain)
}

// UpsertDomainRecord writes the enrichment result for a domain.
func (s *SQLiteStore) UpsertDomainRecord(ctx context.Context, rec model.DomainRecord) error {
	var whois any
	if len(rec.WhoisData) > 0 {
		whois = string(rec.WhoisData)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domain_records (domain, whois_data, registrant_email, registrant_phone, company_name, enriched_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT (domain) DO UPDATE SET
			whois_data = excluded.whois_data,
			registrant_email = excluded.registrant_email,
			registrant_phone = excluded.registrant_phone,
			company_name = excluded.company_name,
			enriched_at = datetime('now')`,
		rec.Domain, whois, rec.RegistrantEmail, rec.RegistrantPhone, rec.CompanyName)
	return eris.Wrapf(err, "sqlite: upsert domain record %s", rec.Domain)
}

// SellersForDomain returns sellers linked to a domain.
func (s *SQLiteStore) SellersForDomain(ctx context.Context, domain string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT seller_id FROM (
			SELECT seller_id FROM seller_contacts WHERE type = 'domain' AND value = ?
			UNION
			SELECT ss.seller_id FROM seller_storefronts ss, json_each(ss.external_domains) je WHERE je.value = ?
		 ) ORDER BY seller_id`,
		domain, domain)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: sellers for domain %s", domain)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan seller id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ProviderUsage returns the call count for a provider on a given day.
func (s *SQLiteStore) ProviderUsage(ctx context.Context, provider string, day time.Time) (int, error) {
	var calls int
	err := s.db.QueryRowContext(ctx,
		`SELECT calls FROM provider_usage WHERE provider = ? AND day = ?`,
		provider, usageDay(day)).Scan(&calls)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "sqlite: provider usage %s", provider)
	}
	return calls, nil
}

// IncrementProviderUsage bumps a provider's daily call counter.
func (s *SQLiteStore) IncrementProviderUsage(ctx context.Context, provider string, day time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_usage (provider, day, calls) VALUES (?, ?, 1)
		 ON CONFLICT (provider, day) DO UPDATE SET calls = calls + 1`,
		provider, usageDay(day))
	return eris.Wrapf(err, "sqlite: increment usage %s", provider)
}

// RecordRun persists a batch run summary.
func (s *SQLiteStore) RecordRun(ctx context.Context, run model.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, stage, status, processed, succeeded, failed, cost_usd, detail, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Stage, run.Status, run.Processed, run.Succeeded, run.Failed,
		run.CostUSD, run.Detail, run.StartedAt.UTC(), run.CompletedAt.UTC())
	return eris.Wrap(err, "sqlite: record run")
}

// ListLeads returns sellers with contacts, ordered by whale flag then
// revenue.
func (s *SQLiteStore) ListLeads(ctx context.Context, limit int) ([]Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSellerColumns+` FROM sellers
		 WHERE total_contacts > 0
		 ORDER BY is_whale DESC, total_est_revenue DESC, id LIMIT ?`,
		limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	sellers, err := sqliteCollectSellers(rows)
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
