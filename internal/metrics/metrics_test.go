package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestParseHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{"signoz-ingestion-key": "abc", "x": "y=z"},
		ParseHeaders(" signoz-ingestion-key = abc ,x=y=z, broken"))
	assert.Empty(t, ParseHeaders(""))
}

func TestNewAppMetrics_RecordsMarketplaceInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewAppMetrics(provider.Meter("test"), "harvest-api")
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCheckout(ctx, 2, 20)
	m.RecordTradeCreated(ctx, "Vegetables", "checkout")
	m.RecordInventory(ctx, 1, 8)
	m.RecordCache(ctx, true)
	m.RecordDBQuery(ctx, "SELECT", "products", "SELECT 1", time.Now(), true)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	for _, want := range []string{
		"orders_checked_out_total", "revenue_total", "trades_created_total",
		"inventory_level", "cache_hits_total", "db.client.queries.count",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}
