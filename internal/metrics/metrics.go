// Package metrics exports synchronization counters through Prometheus.
//
// A nil *Recorder is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hackops"

// Recorder holds the collectors for one client instance.
type Recorder struct {
	registry *prometheus.Registry

	calls     *prometheus.CounterVec
	inflight  prometheus.Gauge
	online    prometheus.Gauge
	mutations *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	fetches   *prometheus.CounterVec
	outbox    *prometheus.GaugeVec
	replays   *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Remote calls by label and result (ok, error, offline).",
		}, []string{"label", "result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "foreground_inflight",
			Help:      "Foreground calls currently in flight.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the API is considered reachable.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Optimistic mutations by entity kind, op and outcome.",
		}, []string{"kind", "op", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollback_conflicts_total",
			Help:      "Rollbacks discarded because the cache moved on.",
		}, []string{"kind"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Cache fetches by entity kind and result (ok, error, stale).",
		}, []string{"kind", "result"}),
		outbox: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_entries",
			Help:      "Offline queue entries by status.",
		}, []string{"status"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_replays_total",
			Help:      "Offline queue replays by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(r.calls, r.inflight, r.online, r.mutations, r.conflicts, r.fetches, r.outbox, r.replays)
	return r
}

// Registry exposes the underlying registry for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Call(label, result string) {
	if r == nil {
		return
	}
	r.calls.WithLabelValues(label, result).Inc()
}

func (r *Recorder) Inflight(n int64) {
	if r == nil {
		return
	}
	r.inflight.Set(float64(n))
}

func (r *Recorder) Online(online bool) {
	if r == nil {
		return
	}
	if online {
		r.online.Set(1)
		return
	}
	r.online.Set(0)
}

func (r *Recorder) Mutation(kind, op, outcome string) {
	if r == nil {
		return
	}
	r.mutations.WithLabelValues(kind, op, outcome).Inc()
}

func (r *Recorder) Conflict(kind string) {
	if r == nil {
		return
	}
	r.conflicts.WithLabelValues(kind).Inc()
}

func (r *Recorder) Fetch(kind, result string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) Outbox(pending, dead int) {
	if r == nil {
		return
	}
	r.outbox.WithLabelValues("pending").Set(float64(pending))
	r.outbox.WithLabelValues("dead").Set(float64(dead))
}

func (r *Recorder) Replay(result string) {
	if r == nil {
		return
	}
	r.replays.WithLabelValues(result).Inc()
}
