package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics installs a Metrics instance backed by a ManualReader.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := newMetrics(mp)
	require.NoError(t, err)
	globalMetrics = m

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordHTTP_SharedMetrics(t *testing.T) {
	reader := setupTestMetrics(t)

	r := InjectTags(httptest.NewRequest(http.MethodPost, "/api/v1/workspace/scan", nil))
	SetAPI(r, "workspace")
	SetCacheResult(r, CacheHit)

	RecordHTTP(context.Background(), r, http.StatusOK, 1024, 50*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "medcompanion_http_requests_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "api", "workspace"))
	require.True(t, hasAttr(dps[0].Attributes, "status_class", "2xx"))
	require.True(t, hasAttr(dps[0].Attributes, "cache_result", "hit"))

	bytesDps := findCounter(rm, "medcompanion_http_response_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, 1024, bytesDps[0].Value)

	histDps := findHistogram(rm, "medcompanion_http_request_duration_seconds")
	require.Len(t, histDps, 1)
	require.Equal(t, uint64(1), histDps[0].Count)

	_, hasEndpoint := dps[0].Attributes.Value(attribute.Key("endpoint"))
	require.False(t, hasEndpoint)
}

func TestRecordHTTP_DetailMetricWithEndpoint(t *testing.T) {
	reader := setupTestMetrics(t)

	r := InjectTags(httptest.NewRequest(http.MethodPost, "/api/v1/dicom/process-series", nil))
	SetAPI(r, "dicom")
	SetCacheResult(r, CacheNA)
	SetEndpoint(r, "process_series")

	RecordHTTP(context.Background(), r, http.StatusInternalServerError, 64, 100*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "medcompanion_http_requests_by_endpoint_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "api", "dicom"))
	require.True(t, hasAttr(dps[0].Attributes, "endpoint", "process_series"))
	require.True(t, hasAttr(dps[0].Attributes, "status_class", "5xx"))
}

func TestRecordHTTP_DefaultsWhenNoTags(t *testing.T) {
	reader := setupTestMetrics(t)

	r := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	RecordHTTP(context.Background(), r, http.StatusNotFound, 0, time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "medcompanion_http_requests_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "api", "unknown"))
	require.True(t, hasAttr(dps[0].Attributes, "cache_result", "bypass"))
	require.True(t, hasAttr(dps[0].Attributes, "status_class", "4xx"))

	require.Empty(t, findCounter(rm, "medcompanion_http_requests_by_endpoint_total"))
}

func TestRecordSeriesMetrics(t *testing.T) {
	reader := setupTestMetrics(t)
	ctx := WithCaller(context.Background(), "cli")

	RecordSeriesItem(ctx, "converted")
	RecordSeriesItem(ctx, "converted")
	RecordSeriesItem(ctx, "decode_failed")
	RecordSeriesRun(ctx, "success", 2*time.Second)

	rm := collectMetrics(t, reader)

	items := findCounter(rm, "medcompanion_series_items_total")
	require.Len(t, items, 2)
	for _, dp := range items {
		switch {
		case hasAttr(dp.Attributes, "outcome", "converted"):
			require.EqualValues(t, 2, dp.Value)
		case hasAttr(dp.Attributes, "outcome", "decode_failed"):
			require.EqualValues(t, 1, dp.Value)
		default:
			t.Fatalf("unexpected data point %v", dp.Attributes)
		}
	}

	runs := findHistogram(rm, "medcompanion_series_run_duration_seconds")
	require.Len(t, runs, 1)
	require.True(t, hasAttr(runs[0].Attributes, "caller", "cli"))
	require.True(t, hasAttr(runs[0].Attributes, "outcome", "success"))
}

func TestRecordCacheAndExtraction(t *testing.T) {
	reader := setupTestMetrics(t)
	ctx := context.Background()

	RecordCacheLookup(ctx, CacheMiss)
	RecordExtraction(ctx, "success", 3, 200*time.Millisecond)
	RecordExtraction(ctx, "error", 0, 10*time.Millisecond)
	RecordCacheLookup(ctx, CacheHit)

	rm := collectMetrics(t, reader)

	lookups := findCounter(rm, "medcompanion_cache_lookups_total")
	require.Len(t, lookups, 2)
	require.True(t, hasAttr(lookups[0].Attributes, "caller", "unknown"))

	pages := findCounter(rm, "medcompanion_extracted_pages_total")
	require.Len(t, pages, 1)
	require.EqualValues(t, 3, pages[0].Value)

	extractions := findCounter(rm, "medcompanion_extractions_total")
	require.Len(t, extractions, 2)
}

func TestRecordExpiryCycle(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordExpiryCycle(context.Background(), "retention", 4, 5*time.Millisecond)

	rm := collectMetrics(t, reader)
	deleted := findCounter(rm, "medcompanion_expiry_deleted_total")
	require.Len(t, deleted, 1)
	require.EqualValues(t, 4, deleted[0].Value)
	require.True(t, hasAttr(deleted[0].Attributes, "reason", "retention"))
}

func TestRecord_NilGlobalMetrics(t *testing.T) {
	globalMetrics = nil
	ctx := context.Background()
	r := InjectTags(httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotPanics(t, func() {
		RecordHTTP(ctx, r, http.StatusOK, 0, time.Millisecond)
		RecordBackendOp(ctx, "doccache", "read", "success", time.Millisecond, 0)
		RecordSeriesItem(ctx, "converted")
		RecordSeriesRun(ctx, "success", time.Second)
		RecordCacheLookup(ctx, CacheHit)
		RecordExtraction(ctx, "success", 1, time.Second)
		RecordExpiryCycle(ctx, "size", 0, time.Millisecond)
	})
}

func TestPrometheusHandler_NotFoundWhenDisabled(t *testing.T) {
	globalMetrics = nil

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{304, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{100, "unknown"},
		{0, "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusClass(tt.status), "StatusClass(%d)", tt.status)
	}
}
