package metrics

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/greenharvest/harvest-api/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// AppMetrics holds all application metrics
type AppMetrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestsErrors  metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Database Metrics
	DBQueriesTotal  metric.Int64Counter
	DBQueryDuration metric.Float64Histogram

	// Marketplace Metrics
	OrdersCheckedOut   metric.Int64Counter
	TradesCreated      metric.Int64Counter
	TradeStatusChanges metric.Int64Counter
	RevenueTotal       metric.Float64Counter
	InventoryLevel     metric.Int64Gauge
	CartItemsCount     metric.Int64Gauge

	// Application Metrics
	ActiveUsersCount metric.Int64Gauge
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
	AIRequests       metric.Int64Counter
	AIRateLimited    metric.Int64Counter

	// Service name for adding to all metrics
	serviceName string
}

// Resource builds the OTel resource shared by metrics and traces
func Resource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	// Environment attributes first, explicit service attributes take precedence
	envRes, err := resource.New(ctx, resource.WithFromEnv())
	if err != nil {
		envRes = resource.Empty()
	}

	explicitRes, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.OTELServiceName),
			semconv.ServiceVersion(cfg.OTELServiceVersion),
			attribute.String("deployment.environment", cfg.OTELDeploymentEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create explicit resource: %w", err)
	}

	res, err := resource.Merge(envRes, explicitRes)
	if err != nil {
		return nil, fmt.Errorf("failed to merge resources: %w", err)
	}

	for _, kv := range res.Attributes() {
		if kv.Key == semconv.ServiceNameKey && kv.Value.AsString() != "" {
			return res, nil
		}
	}
	return nil, fmt.Errorf("service.name is not set in resource attributes")
}

// InitMetrics initializes the OTLP metrics pipeline and the application instruments
func InitMetrics(ctx context.Context, cfg *config.Config) (*AppMetrics, *sdkmetric.MeterProvider, error) {
	res, err := Resource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// WithEndpoint expects host:port without a scheme; WithInsecure for http:// collectors
	exporterOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.OTELExporterOTLPEndpoint),
		otlpmetrichttp.WithURLPath("/v1/metrics"),
	}
	if cfg.OTELExporterOTLPHeaders != "" {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithHeaders(ParseHeaders(cfg.OTELExporterOTLPHeaders)))
	}
	if cfg.OTELExporterOTLPInsecure {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(10*time.Second),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(meterProvider)

	log.Printf("[METRICS] exporting every 10s to %s/v1/metrics (insecure=%t)", cfg.OTELExporterOTLPEndpoint, cfg.OTELExporterOTLPInsecure)

	appMetrics, err := NewAppMetrics(meterProvider.Meter(cfg.OTELServiceName), cfg.OTELServiceName)
	if err != nil {
		return nil, nil, err
	}
	return appMetrics, meterProvider, nil
}

// NewAppMetrics creates the application instruments on meter
func NewAppMetrics(meter metric.Meter, serviceName string) (*AppMetrics, error) {
	// SigNoz default histogram buckets in milliseconds, expanded to 60s
	buckets := []float64{2, 4, 6, 8, 10, 50, 100, 200, 400, 800, 1000, 1400, 2000, 5000, 10000, 15000, 20000, 30000, 45000, 60000}

	m := &AppMetrics{serviceName: serviceName}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.HTTPRequestsTotal, "http.server.request.count", "Total number of HTTP requests"},
		{&m.HTTPRequestsErrors, "http.server.request.error.count", "Total number of HTTP error requests"},
		{&m.DBQueriesTotal, "db.client.queries.count", "Total number of database queries"},
		{&m.OrdersCheckedOut, "orders_checked_out_total", "Total number of carts checked out"},
		{&m.TradesCreated, "trades_created_total", "Total number of trades created"},
		{&m.TradeStatusChanges, "trade_status_changes_total", "Total number of trade status transitions"},
		{&m.CacheHits, "cache_hits_total", "Total number of cache hits"},
		{&m.CacheMisses, "cache_misses_total", "Total number of cache misses"},
		{&m.AIRequests, "ai_requests_total", "Total number of AI provider calls"},
		{&m.AIRateLimited, "ai_rate_limited_total", "Total number of AI requests rejected by the rate limiter"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1")); err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	gauges := []struct {
		dst  *metric.Int64Gauge
		name string
		desc string
	}{
		{&m.InventoryLevel, "inventory_level", "Current stock level for products"},
		{&m.CartItemsCount, "cart_items_count", "Current number of units in a customer's cart"},
		{&m.ActiveUsersCount, "active_users_count", "Currently active users"},
	}
	for _, g := range gauges {
		if *g.dst, err = meter.Int64Gauge(g.name, metric.WithDescription(g.desc), metric.WithUnit("1")); err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(buckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	if m.DBQueryDuration, err = meter.Float64Histogram(
		"db.client.queries.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(buckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create db duration histogram: %w", err)
	}

	if m.RevenueTotal, err = meter.Float64Counter(
		"revenue_total",
		metric.WithDescription("Total value of trades created"),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, fmt.Errorf("failed to create revenue counter: %w", err)
	}

	return m, nil
}

// WithServiceName adds service.name to attributes
func (m *AppMetrics) WithServiceName(attrs []attribute.KeyValue) []attribute.KeyValue {
	return append(attrs, attribute.String("service.name", m.serviceName))
}

func (m *AppMetrics) attrs(kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(m.WithServiceName(kv)...)
}

// RecordDBQuery records database query metrics including the SQL statement
func (m *AppMetrics) RecordDBQuery(ctx context.Context, operation, table, statement string, start time.Time, success bool) {
	duration := time.Since(start).Milliseconds()

	status := "success"
	if !success {
		status = "error"
	}

	opt := m.attrs(
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
		attribute.String("db.statement", statement),
		attribute.String("db.system", "mysql"),
		attribute.String("status", status),
	)
	m.DBQueriesTotal.Add(ctx, 1, opt)
	m.DBQueryDuration.Record(ctx, float64(duration), opt)
}

// RecordCache records a product cache lookup
func (m *AppMetrics) RecordCache(ctx context.Context, hit bool) {
	if hit {
		m.CacheHits.Add(ctx, 1, m.attrs(attribute.String("cache", "product")))
		return
	}
	m.CacheMisses.Add(ctx, 1, m.attrs(attribute.String("cache", "product")))
}

// RecordInventory records a product's stock after an adjustment
func (m *AppMetrics) RecordInventory(ctx context.Context, productID int64, stock int) {
	m.InventoryLevel.Record(ctx, int64(stock), m.attrs(attribute.Int64("product_id", productID)))
}

// RecordCartItems records the number of units in a customer's cart
func (m *AppMetrics) RecordCartItems(ctx context.Context, customerID int64, units int) {
	m.CartItemsCount.Record(ctx, int64(units), m.attrs(attribute.Int64("customer_id", customerID)))
}

// RecordCheckout records a completed checkout and the value of its trades
func (m *AppMetrics) RecordCheckout(ctx context.Context, trades int, amount float64) {
	m.OrdersCheckedOut.Add(ctx, 1, m.attrs(attribute.Int("trade_count", trades)))
	m.RevenueTotal.Add(ctx, amount, m.attrs(attribute.String("stage", "booked")))
}

// RecordRevenue records the value of a trade confirmed as completed
func (m *AppMetrics) RecordRevenue(ctx context.Context, amount float64) {
	m.RevenueTotal.Add(ctx, amount, m.attrs(attribute.String("stage", "completed")))
}

// RecordTradeCreated records one trade with its product category
func (m *AppMetrics) RecordTradeCreated(ctx context.Context, category, source string) {
	m.TradesCreated.Add(ctx, 1, m.attrs(
		attribute.String("product_category", category),
		attribute.String("source", source),
	))
}

// RecordTradeStatusChange records a trade transition
func (m *AppMetrics) RecordTradeStatusChange(ctx context.Context, from, to string) {
	m.TradeStatusChanges.Add(ctx, 1, m.attrs(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordAIRequest records one AI provider call by feature and outcome
func (m *AppMetrics) RecordAIRequest(ctx context.Context, feature string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.AIRequests.Add(ctx, 1, m.attrs(
		attribute.String("feature", feature),
		attribute.String("status", status),
	))
}

// RecordAIRateLimited records a request rejected by the AI quota
func (m *AppMetrics) RecordAIRateLimited(ctx context.Context, feature string) {
	m.AIRateLimited.Add(ctx, 1, m.attrs(attribute.String("feature", feature)))
}

// RecordActiveUser marks a user as active for this request
func (m *AppMetrics) RecordActiveUser(ctx context.Context, userID int64, role string) {
	m.ActiveUsersCount.Record(ctx, 1, m.attrs(
		attribute.String("session_type", "active"),
		attribute.Int64("user_id", userID),
		attribute.String("role", role),
	))
}

// ParseHeaders parses header string in format "key1=value1,key2=value2"
// and returns a map of headers
func ParseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	if headerStr == "" {
		return headers
	}

	pairs := strings.Split(headerStr, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return headers
}
