// Package metrics exposes prometheus instrumentation for the resolver
// core. Installing a Recorder is optional: every counter/gauge method is
// safe to call on a nil *Recorder.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder implements reqtable.MetricsSink and nameserver-level gauges.
type Recorder struct {
	retransmits prometheus.Counter
	reissues    prometheus.Counter
	timeouts    prometheus.Counter
	inflight    prometheus.Gauge
	waiting     prometheus.Gauge
	nsUp        prometheus.Gauge
	nsDown      prometheus.Gauge
}

// NewRecorder creates and registers the resolver's metrics against reg.
// Pass prometheus.DefaultRegisterer for the global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsasync_resolver_retransmits_total",
			Help: "Total query retransmissions after a per-attempt timeout.",
		}),
		reissues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsasync_resolver_reissues_total",
			Help: "Total query reissues to a different nameserver after a semantic error.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsasync_resolver_timeouts_total",
			Help: "Total per-attempt timeouts observed.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnsasync_resolver_inflight_requests",
			Help: "Requests currently transmitted or awaiting reply.",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnsasync_resolver_waiting_requests",
			Help: "Requests queued behind the inflight cap.",
		}),
		nsUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnsasync_resolver_nameservers_up",
			Help: "Configured nameservers currently marked up.",
		}),
		nsDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dnsasync_resolver_nameservers_down",
			Help: "Configured nameservers currently marked down and being probed.",
		}),
	}
	reg.MustRegister(r.retransmits, r.reissues, r.timeouts, r.inflight, r.waiting, r.nsUp, r.nsDown)
	return r
}

func (r *Recorder) IncRetransmit() {
	if r != nil {
		r.retransmits.Inc()
	}
}

func (r *Recorder) IncReissue() {
	if r != nil {
		r.reissues.Inc()
	}
}

func (r *Recorder) IncTimeout() {
	if r != nil {
		r.timeouts.Inc()
	}
}

func (r *Recorder) SetInflight(n int) {
	if r != nil {
		r.inflight.Set(float64(n))
	}
}

func (r *Recorder) SetWaiting(n int) {
	if r != nil {
		r.waiting.Set(float64(n))
	}
}

// SetNameserverCounts records the up/down split across the registry as
// last reported by the caller; the gauges do not change on their own when
// a nameserver changes state in between.
func (r *Recorder) SetNameserverCounts(up, down int) {
	if r != nil {
		r.nsUp.Set(float64(up))
		r.nsDown.Set(float64(down))
	}
}
