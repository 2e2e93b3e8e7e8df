package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/modular/internal/extension"
	"github.com/dshills/modular/internal/plugin"
)

var errValue = errors.New("value error")

func constant(v any, err error) extension.Func {
	return func(context.Context, any, ...any) (any, error) { return v, err }
}

func TestMetricsObserver(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry, "test")

	m.PointInvoked("shell", "prompt", extension.VariantOverride, time.Millisecond, nil)
	m.PointInvoked("shell", "prompt", extension.VariantOverride, time.Millisecond, errValue)
	m.AlternativeSkipped("shell", "react", "greeter", errValue)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PointInvocationsTotal.WithLabelValues("shell", "prompt", "override", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PointInvocationsTotal.WithLabelValues("shell", "prompt", "override", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackSkipsTotal.WithLabelValues("shell", "react", "greeter")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PointInvocationDuration))
}

func TestMetricsInstrument(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry, "test")

	typ := extension.MustType("shell",
		extension.Override("prompt", constant("> ", nil)),
		extension.Fallback("react", constant("primary", nil), errValue),
	)

	catalog := plugin.NewCatalog()
	catalog.MustRegister("skipper", func() (plugin.Definition, error) {
		return plugin.Definition{Exports: map[string]extension.Func{
			"react": constant(nil, errValue),
		}}, nil
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts := plugin.DefaultOptions()
	opts.Source = catalog
	opts.Logger = logger
	mgr, err := plugin.Setup(typ, opts)
	require.NoError(t, err)

	stop := m.Instrument(mgr)
	ctx := context.Background()

	_, err = mgr.LoadPlugin(ctx, "skipper")
	require.NoError(t, err)
	_, err = mgr.LoadPlugin(ctx, "missing")
	require.Error(t, err)

	got, err := typ.Invoke(ctx, "react", nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", got)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginsActive.WithLabelValues("shell")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginOperationsTotal.WithLabelValues("shell", "activate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginOperationsTotal.WithLabelValues("shell", "load", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackSkipsTotal.WithLabelValues("shell", "react", "skipper")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PointInvocationsTotal.WithLabelValues("shell", "react", "fallback", "ok")))

	require.NoError(t, mgr.Deactivate(ctx, "skipper"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PluginsActive.WithLabelValues("shell")))

	stop()
	_, err = typ.Invoke(ctx, "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PointInvocationsTotal.WithLabelValues("shell", "prompt", "override", "ok")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry, "modular")
	m.PluginsActive.WithLabelValues("shell").Set(2)

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `modular_plugins_active{type="shell"} 2`))
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry, "dup")
	assert.Panics(t, func() { NewMetrics(registry, "dup") })
}
