package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/modular/internal/extension"
	"github.com/dshills/modular/internal/plugin"
)

// Metrics holds the Prometheus metrics for extension points and plugins.
// It implements extension.Observer.
type Metrics struct {
	// Extension point metrics
	PointInvocationsTotal   *prometheus.CounterVec
	PointInvocationDuration *prometheus.HistogramVec
	FallbackSkipsTotal      *prometheus.CounterVec

	// Plugin metrics
	PluginsActive         *prometheus.GaugeVec
	PluginOperationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics under namespace.
func NewMetrics(registry prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		PointInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "point_invocations_total",
				Help:      "Total number of extension point invocations",
			},
			[]string{"type", "point", "variant", "outcome"},
		),
		PointInvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "point_invocation_duration_seconds",
				Help:      "Extension point invocation duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"type", "point"},
		),
		FallbackSkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_skips_total",
				Help:      "Total number of fallback alternatives skipped with a continuable error",
			},
			[]string{"type", "point", "plugin"},
		),
		PluginsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plugins_active",
				Help:      "Number of active plugins",
			},
			[]string{"type"},
		),
		PluginOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_operations_total",
				Help:      "Total number of plugin lifecycle operations",
			},
			[]string{"type", "op", "outcome"},
		),
	}

	registry.MustRegister(
		m.PointInvocationsTotal,
		m.PointInvocationDuration,
		m.FallbackSkipsTotal,
		m.PluginsActive,
		m.PluginOperationsTotal,
	)

	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// PointInvoked implements extension.Observer.
func (m *Metrics) PointInvoked(typ, point string, v extension.Variant, d time.Duration, err error) {
	m.PointInvocationsTotal.WithLabelValues(typ, point, v.String(), outcome(err)).Inc()
	m.PointInvocationDuration.WithLabelValues(typ, point).Observe(d.Seconds())
}

// AlternativeSkipped implements extension.Observer.
func (m *Metrics) AlternativeSkipped(typ, point, plugin string, _ error) {
	m.FallbackSkipsTotal.WithLabelValues(typ, point, plugin).Inc()
}

// PluginEvents returns a manager event handler counting lifecycle
// operations of a type.
func (m *Metrics) PluginEvents(typ string) plugin.EventHandler {
	return func(event plugin.ManagerEvent) {
		switch event.Type {
		case plugin.EventPluginActivated:
			m.PluginsActive.WithLabelValues(typ).Inc()
		case plugin.EventPluginDeactivated:
			m.PluginsActive.WithLabelValues(typ).Dec()
		case plugin.EventPluginLoaded:
			// Counted when activation succeeds or fails.
			return
		}
		m.PluginOperationsTotal.WithLabelValues(typ, string(event.Op), outcome(event.Error)).Inc()
	}
}

// Instrument observes the manager's type and subscribes to its events.
// The returned function stops both.
func (m *Metrics) Instrument(mgr *plugin.Manager) func() {
	typ := mgr.Type()
	typ.Observe(m)
	unsubscribe := mgr.Subscribe(m.PluginEvents(typ.Name()))

	return func() {
		typ.Observe(nil)
		unsubscribe()
	}
}

// Handler serves the metrics of a registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
