package counter

import (
	"context"
	"testing"

	"github.com/s3db/s3db/internal/blob"
	"github.com/s3db/s3db/internal/resource"
	"github.com/s3db/s3db/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, mode Mode) (*Engine, *resource.Resource) {
	t.Helper()
	backend := blob.NewMemoryBackend()

	baseSV := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "name", Type: schema.TypeString, Required: true},
		{Name: "balance", Type: schema.TypeNumber, Default: 0},
	})
	base := resource.New("accounts", backend, baseSV)

	txSV := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "originalId", Type: schema.TypeString, Required: true},
		{Name: "field", Type: schema.TypeString, Required: true},
		{Name: "op", Type: schema.TypeString, Required: true},
		{Name: "value", Type: schema.TypeNumber, Required: true},
		{Name: "day", Type: schema.TypeString, Required: true},
		{Name: "applied", Type: schema.TypeBoolean, Default: false},
	})
	tx := resource.New("accounts_transactions_balance", backend, txSV, resource.WithPartitions(TransactionPartitions()...))

	analyticsSV := schema.NewSchemaVersion([]schema.Attribute{
		{Name: "day", Type: schema.TypeString, Required: true},
		{Name: "originalId", Type: schema.TypeString, Required: true},
		{Name: "sum", Type: schema.TypeNumber, Default: 0},
		{Name: "count", Type: schema.TypeNumber, Default: 0},
	})
	analyticsRes := resource.New("accounts_analytics_balance", backend, analyticsSV, resource.WithPartitions(AnalyticsPartitions()...))

	e := New("balance", base, tx, WithMode(mode), WithAnalytics(NewRollups(analyticsRes)))
	return e, base
}

func TestSyncModeConsolidatesImmediately(t *testing.T) {
	e, base := newTestEngine(t, ModeSync)
	ctx := context.Background()

	_, err := base.Insert(ctx, "acct1", map[string]interface{}{"name": "Ada", "balance": 0})
	require.NoError(t, err)

	require.NoError(t, e.Add(ctx, "acct1", 100))
	require.NoError(t, e.Sub(ctx, "acct1", 30))

	rec, err := base.Get(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, float64(70), rec.Data["balance"])
}

func TestAsyncModeDefersConsolidation(t *testing.T) {
	e, base := newTestEngine(t, ModeAsync)
	ctx := context.Background()

	_, err := base.Insert(ctx, "acct1", map[string]interface{}{"name": "Ada", "balance": 0})
	require.NoError(t, err)

	require.NoError(t, e.Add(ctx, "acct1", 100))

	rec, err := base.Get(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, float64(0), rec.Data["balance"], "async mode must not consolidate on Add")

	require.NoError(t, e.Consolidate(ctx, "acct1"))
	rec, err = base.Get(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), rec.Data["balance"])
}

func TestConsolidateIsIdempotent(t *testing.T) {
	e, base := newTestEngine(t, ModeAsync)
	ctx := context.Background()

	_, err := base.Insert(ctx, "acct1", map[string]interface{}{"name": "Ada", "balance": 0})
	require.NoError(t, err)

	require.NoError(t, e.Add(ctx, "acct1", 50))
	require.NoError(t, e.Consolidate(ctx, "acct1"))
	require.NoError(t, e.Consolidate(ctx, "acct1"), "re-running consolidate on already-applied transactions must be a no-op")

	rec, err := base.Get(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, float64(50), rec.Data["balance"])
}

func TestSetOverridesRatherThanAccumulates(t *testing.T) {
	e, base := newTestEngine(t, ModeSync)
	ctx := context.Background()

	_, err := base.Insert(ctx, "acct1", map[string]interface{}{"name": "Ada", "balance": 0})
	require.NoError(t, err)

	require.NoError(t, e.Add(ctx, "acct1", 100))
	require.NoError(t, e.Set(ctx, "acct1", 5))

	rec, err := base.Get(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, float64(5), rec.Data["balance"])
}

func TestAuditReportsUnappliedTransactions(t *testing.T) {
	e, base := newTestEngine(t, ModeAsync)
	ctx := context.Background()

	_, err := base.Insert(ctx, "acct1", map[string]interface{}{"name": "Ada", "balance": 0})
	require.NoError(t, err)

	require.NoError(t, e.Add(ctx, "acct1", 10))
	require.NoError(t, e.Add(ctx, "acct1", 20))

	report, err := e.Audit(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.UnappliedCount)

	require.NoError(t, e.Consolidate(ctx, "acct1"))

	report, err = e.Audit(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.UnappliedCount)
}

func TestAnalyticsBumpAccumulatesSameDayCohort(t *testing.T) {
	e, base := newTestEngine(t, ModeSync)
	ctx := context.Background()

	_, err := base.Insert(ctx, "acct1", map[string]interface{}{"name": "Ada", "balance": 0})
	require.NoError(t, err)

	require.NoError(t, e.Add(ctx, "acct1", 10))
	require.NoError(t, e.Add(ctx, "acct1", 15))

	days, err := e.analytics.GetLastNDays(ctx, "acct1", 1, false)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, float64(25), days[0].Sum)
	assert.Equal(t, 2, days[0].Count)
}
