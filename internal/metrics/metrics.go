// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nithronos/nosvol/internal/ledger"
	"nithronos/nosvol/internal/reconcile"
)

type Metrics struct {
	reg prometheus.Registerer

	transitions *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
	outstanding *prometheus.GaugeVec
	activeTasks prometheus.Gauge
	refreshes   *prometheus.CounterVec
}

var _ reconcile.Recorder = (*Metrics)(nil)

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nosvol_transitions_total",
				Help: "Controller transitions applied, by name.",
			},
			[]string{"name"},
		),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nosvol_diagnostics_total",
				Help: "Non-fatal problems reported by the controller, by kind.",
			},
			[]string{"kind"},
		),
		outstanding: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nosvol_ledger_outstanding",
				Help: "Requests awaiting resolution, by ledger kind.",
			},
			[]string{"kind"},
		),
		activeTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nosvol_active_volume_tasks",
				Help: "Volume tasks currently executing on the server.",
			},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nosvol_disk_refresh_total",
				Help: "Scheduled available-disk refresh runs, by result.",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.transitions, m.diagnostics, m.outstanding, m.activeTasks, m.refreshes)
	return m
}

func (m *Metrics) Transition(name string) { m.transitions.WithLabelValues(name).Inc() }
func (m *Metrics) Diagnostic(kind string) { m.diagnostics.WithLabelValues(kind).Inc() }
func (m *Metrics) Refresh(result string)  { m.refreshes.WithLabelValues(result).Inc() }

func (m *Metrics) Ledger(c ledger.Counts) {
	m.outstanding.WithLabelValues(string(ledger.KindVolumesQuery)).Set(float64(c.VolumesRequests))
	m.outstanding.WithLabelValues(string(ledger.KindAvailableDisksQuery)).Set(float64(c.AvailableDisksRequests))
	m.outstanding.WithLabelValues(string(ledger.KindCreateTask)).Set(float64(c.CreateRequests))
	m.outstanding.WithLabelValues(string(ledger.KindDestroyTask)).Set(float64(c.DestroyRequests))
	m.activeTasks.Set(float64(c.ActiveTasks))
}

// WatchBridge exports the bridge queue depth, read at scrape time.
func (m *Metrics) WatchBridge(depth func() (queued, inflight int)) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "nosvol_bridge_requests_queued",
			Help: "Requests waiting for the bridge to take them.",
		}, func() float64 {
			q, _ := depth()
			return float64(q)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "nosvol_bridge_requests_inflight",
			Help: "Requests taken or queued and not yet resolved.",
		}, func() float64 {
			_, n := depth()
			return float64(n)
		}),
	)
}

// Handler serves the text exposition of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
