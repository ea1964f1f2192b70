package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/sellerscout/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPostgresWithPool(pool), pool
}

func TestStartJob(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE crawl_jobs SET status = 'running'").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.StartJob(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartJob_NotPending(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE crawl_jobs SET status = 'running'").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.StartJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
}

func TestCompleteJob_GuardsRunningState(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE crawl_jobs SET status = 'completed'").
		WithArgs("job-1", `{"sellers_found":3}`, 0.001).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.CompleteJob(context.Background(), "job-1", `{"sellers_found":3}`, 0.001))

	mock.ExpectExec("UPDATE crawl_jobs SET status = 'completed'").
		WithArgs("job-1", "", 0.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.CompleteJob(context.Background(), "job-1", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailJob_GuardsRunningState(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE crawl_jobs SET status = 'failed'").
		WithArgs("job-1", "provider exploded", 0.001).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.FailJob(context.Background(), "job-1", "provider exploded", 0.001)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestCreateJob_RejectsUnknownType(t *testing.T) {
	st, _ := newMockStore(t)
	_, err := st.CreateJob(context.Background(), model.JobType("bogus"), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job type")
}

func TestUpsertSeller_CreatedVsDuplicate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO sellers").
		WithArgs("Acme Goods", "https://www.shop.example/acme", "shop.example/acme",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(int64(7), true))

	id, created, err := st.UpsertSeller(context.Background(), model.Seller{
		Name:          "Acme Goods",
		URL:           "https://www.shop.example/acme",
		NormalizedURL: "shop.example/acme",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.True(t, created)

	mock.ExpectQuery("INSERT INTO sellers").
		WithArgs("Acme Goods", "http://Shop.example/acme/", "shop.example/acme",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(int64(7), false))

	id, created, err = st.UpsertSeller(context.Background(), model.Seller{
		Name: "Acme Goods",
		URL:  "http://Shop.example/acme/",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSeller_NoURL(t *testing.T) {
	st, _ := newMockStore(t)
	_, _, err := st.UpsertSeller(context.Background(), model.Seller{Name: "nameless"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no URL")
}

func TestUpsertContacts_SkipsInvalidAndCountsNew(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO seller_contacts").
		WithArgs(int64(1), model.ContactEmail, "sales@acme.com", "storefront", false, 0.0).
		WillReturnRows(pgxmock.NewRows([]string{"is_new"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO seller_contacts").
		WithArgs(int64(1), model.ContactPhone, "512-555-0142", "storefront", false, 0.0).
		WillReturnRows(pgxmock.NewRows([]string{"is_new"}).AddRow(false))
	mock.ExpectCommit()

	inserted, err := st.UpsertContacts(context.Background(), []model.Contact{
		{SellerID: 1, Type: model.ContactEmail, Value: "sales@acme.com", Source: "storefront"},
		{SellerID: 1, Type: model.ContactEmail, Value: "not-an-email", Source: "storefront"},
		{SellerID: 1, Type: model.ContactPhone, Value: "512-555-0142", Source: "storefront"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertContacts_EmptyBatch(t *testing.T) {
	st, mock := newMockStore(t)
	inserted, err := st.UpsertContacts(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResyncSellerMetrics(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sellers SET total_est_revenue").
		WillReturnResult(pgxmock.NewResult("UPDATE", 10))
	mock.ExpectExec("UPDATE sellers SET is_whale").
		WithArgs(250000.0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 10))
	mock.ExpectExec("UPDATE sellers SET total_contacts").
		WillReturnResult(pgxmock.NewResult("UPDATE", 10))
	mock.ExpectExec("UPDATE sellers SET updated_at").
		WillReturnResult(pgxmock.NewResult("UPDATE", 10))
	mock.ExpectCommit()

	err := st.ResyncSellerMetrics(context.Background(), MetricsPolicy{WhaleThreshold: 250000})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDomainAttempt_AtMostOnce(t *testing.T) {
	st, mock := newMockStore(t)

	// Second attempt hits DO NOTHING: zero rows affected, still no error.
	mock.ExpectExec("INSERT INTO domain_enrichment_attempts").
		WithArgs("acme-goods.com", true, 0.001).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO domain_enrichment_attempts").
		WithArgs("acme-goods.com", false, 0.001).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, st.RecordDomainAttempt(context.Background(), "acme-goods.com", true, 0.001))
	require.NoError(t, st.RecordDomainAttempt(context.Background(), "acme-goods.com", false, 0.001))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderUsage_DayKeyAndMissingRow(t *testing.T) {
	st, mock := newMockStore(t)
	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT calls FROM provider_usage").
		WithArgs("cheap", "2026-03-01").
		WillReturnRows(pgxmock.NewRows([]string{"calls"}).AddRow(4))

	calls, err := st.ProviderUsage(context.Background(), "cheap", day)
	require.NoError(t, err)
	assert.Equal(t, 4, calls)

	mock.ExpectQuery("SELECT calls FROM provider_usage").
		WithArgs("pricey", "2026-03-01").
		WillReturnRows(pgxmock.NewRows([]string{"calls"}))

	calls, err = st.ProviderUsage(context.Background(), "pricey", day)
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementProviderUsage(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO provider_usage").
		WithArgs("cheap", "2026-03-01").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.IncrementProviderUsage(context.Background(), "cheap",
		time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectUnprocessedTopTier_RejectsUnknownBucket(t *testing.T) {
	st, _ := newMockStore(t)
	_, err := st.SelectUnprocessedTopTier(context.Background(), 10, model.RevenueBucket("mega"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown revenue bucket")
}

func TestMigrationCoversSchema(t *testing.T) {
	for _, table := range []string{
		"products", "crawl_jobs", "sellers", "product_seller_links",
		"seller_contacts", "seller_storefronts", "domain_records",
		"domain_enrichment_attempts", "provider_usage", "pipeline_runs",
	} {
		assert.Contains(t, postgresMigration, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, postgresMigration, "normalized_url    TEXT NOT NULL UNIQUE")
	assert.Contains(t, postgresMigration, "UNIQUE (seller_id, type, value)")
}
