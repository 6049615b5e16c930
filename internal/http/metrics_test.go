package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/collections/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "no")
	})

	for _, path := range []string{"/collections/a", "/collections/b", "/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	statuses := map[int64]bool{}
	var foundDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "collectiond.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value(attribute.Key("route"))
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					counts[route.AsString()] += dp.Value
					statuses[status.AsInt64()] = true
				}
			case "collectiond.http.request_duration_seconds":
				foundDuration = true
			}
		}
	}

	assert.Equal(t, int64(2), counts["/collections/:id"], "ids are folded into the route label")
	assert.Equal(t, int64(1), counts["/fail"])
	assert.True(t, statuses[http.StatusTeapot], "handler errors are recorded with their final status")
	assert.True(t, foundDuration)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/health", normalizePath("/health"))
	assert.Equal(t, "/api/v1/collections/:id", normalizePath("/api/v1/collections/:id"))
}
