// Package metrics records engine activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/podwire/internal/ir"
)

// Recorder receives engine activity. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Emitted counts one emitted message.
	Emitted(channel ir.Channel, trigger ir.TriggerKind)
	// Dropped counts one candidate dropped with an evaluation error code.
	Dropped(code string)
	// Responded counts one Respond call by outcome ("resolved" or an error code).
	Responded(outcome string)
	// Reloaded records a registry swap and the new definition count.
	Reloaded(definitions int)
	// Pass observes the duration of one random or event pass.
	Pass(trigger ir.TriggerKind, d time.Duration)
	// Pending sets the number of unresolved ledger entries.
	Pending(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Emitted(ir.Channel, ir.TriggerKind) {}
func (Nop) Dropped(string) {}
func (Nop) Responded(string) {}
func (Nop) Reloaded(int) {}
func (Nop) Pass(ir.TriggerKind, time.Duration) {}
func (Nop) Pending(int) {}

const namespace = "podwire"

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	emitted     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	responded   *prometheus.CounterVec
	reloads     prometheus.Counter
	definitions prometheus.Gauge
	pending     prometheus.Gauge
	passSeconds *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid global state.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_emitted_total",
			Help:      "Messages emitted, by channel and trigger.",
		}, []string{"channel", "trigger"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Candidate emissions dropped by evaluation errors, by code.",
		}, []string{"code"}),
		responded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Respond calls, by outcome.",
		}, []string{"outcome"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_reloads_total",
			Help:      "Registry snapshots swapped in.",
		}),
		definitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_definitions",
			Help:      "Definitions in the current registry snapshot.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "responses_pending",
			Help:      "User-action emissions awaiting a response.",
		}),
		passSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of random and event passes.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"trigger"}),
	}

	for _, c := range []prometheus.Collector{
		p.emitted, p.dropped, p.responded, p.reloads, p.definitions, p.pending, p.passSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) Emitted(channel ir.Channel, trigger ir.TriggerKind) {
	p.emitted.WithLabelValues(string(channel), string(trigger)).Inc()
}

func (p *Prometheus) Dropped(code string) {
	p.dropped.WithLabelValues(code).Inc()
}

func (p *Prometheus) Responded(outcome string) {
	p.responded.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) Reloaded(definitions int) {
	p.reloads.Inc()
	p.definitions.Set(float64(definitions))
}

func (p *Prometheus) Pass(trigger ir.TriggerKind, d time.Duration) {
	p.passSeconds.WithLabelValues(string(trigger)).Observe(d.Seconds())
}

func (p *Prometheus) Pending(n int) {
	p.pending.Set(float64(n))
}
