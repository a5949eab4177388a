package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "clinic-test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// Non-routable address so nothing is exported.
	shutdown, err := Setup(context.Background(), "clinic-test", "http://192.0.2.1:4318")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestMiddleware_RecordsServerSpan(t *testing.T) {
	rec := withRecorder(t)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients/abc", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/patients/:id")
	c.Set("tenant_id", "centro")

	err := Middleware("clinic")(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})(c)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/patients/:id", spans[0].Name())
	assert.Equal(t, int64(http.StatusNoContent), attr(spans[0], "http.response.status_code").AsInt64())
	assert.Equal(t, "centro", attr(spans[0], "clinic.tenant").AsString())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestMiddleware_MarksServerErrors(t *testing.T) {
	rec := withRecorder(t)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/billing/receivables", nil), httptest.NewRecorder())

	err := Middleware("clinic")(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "boom")
	})(c)
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestMiddleware_ClientErrorsAreNotSpanErrors(t *testing.T) {
	rec := withRecorder(t)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/leads/x", nil), httptest.NewRecorder())

	_ = Middleware("clinic")(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "lead not found")
	})(c)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}
