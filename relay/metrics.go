package relay

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the relay's ambient observability surface: a small set of
// prometheus collectors plus a chi router exposing
// /healthz and /metrics. It is read-only with respect to relay state —
// nothing here mutates the pool, the maps, or the queue.
type Metrics struct {
	registry *prometheus.Registry

	poolFree        prometheus.Gauge
	poolUsed        prometheus.Gauge
	serversGauge    prometheus.Gauge
	clientsGauge    prometheus.Gauge
	queueDepth      prometheus.Gauge
	cascadingTotal  prometheus.Counter
	poolExhaustions prometheus.Counter
	envelopesTotal  *prometheus.CounterVec
}

// NewMetrics registers a fresh set of collectors against a private
// registry (never the global default, so multiple Relay instances in one
// process — as in tests — don't collide).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	namespace := "natrelay"

	m := &Metrics{
		registry: reg,
		poolFree: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "port_pool_free", Help: "Server-relay ports currently unassigned.",
		}),
		poolUsed: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "port_pool_used", Help: "Server-relay ports currently assigned.",
		}),
		serversGauge: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "servers_connected", Help: "Servers currently holding a relay port.",
		}),
		clientsGauge: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "clients_routed", Help: "Clients currently present in relayMap.",
		}),
		queueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_queue_depth", Help: "Messages waiting for an unconnected target.",
		}),
		cascadingTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cascading_cleanups_total", Help: "Cascading cleanups executed.",
		}),
		poolExhaustions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "port_pool_exhaustions_total", Help: "ServerInit requests rejected due to pool exhaustion.",
		}),
		envelopesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "envelopes_relayed_total", Help: "Envelopes relayed, by flow.",
		}, []string{"flow"}),
	}
	return m
}

// Observe refreshes the gauge collectors from a Stats snapshot. Called
// periodically by the event loop, never from request-handling goroutines.
func (m *Metrics) Observe(s Stats) {
	m.poolFree.Set(float64(s.PoolFree))
	m.poolUsed.Set(float64(s.PoolUsed))
	m.serversGauge.Set(float64(s.Servers))
	m.clientsGauge.Set(float64(s.Clients))
	m.queueDepth.Set(float64(s.QueueDepth))
}

func (m *Metrics) recordEnvelope(flow string) {
	m.envelopesTotal.WithLabelValues(flow).Inc()
}

// Handler returns a chi router serving /healthz and /metrics, meant to be
// bound to its own admin address, independent of the relay's UDP listen
// port (grounded on cmd/relay-server/serve.go's chi.NewRouter wiring).
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return r
}
