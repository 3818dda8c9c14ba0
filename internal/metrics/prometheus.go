package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Modes reported by the mode gauge, one series per mode.
var modes = []string{"disconnected", "connecting", "validating", "connected"}

// Prometheus is a collector backed by Prometheus.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	mode            *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec
	admissions      *prometheus.CounterVec
	forced          *prometheus.CounterVec
	stashDepth      prometheus.Gauge
	deliveries      *prometheus.CounterVec
}

// NewPrometheus creates a Prometheus-backed collector. A nil registerer uses
// prometheus.DefaultRegisterer; an empty namespace uses "stream_supervisor".
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "stream_supervisor"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.mode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "supervisor",
			Name:      "mode",
			Help:      "1 for the supervisor's current mode, 0 otherwise.",
		}, []string{"mode"})

		p.connectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "supervisor",
			Name:      "connect_attempts_total",
			Help:      "Broker connection attempts by result (success,failure).",
		}, []string{"result"})

		p.admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "supervisor",
			Name:      "admissions_total",
			Help:      "Admission outcomes (admitted,deferred,retried,dropped,rejected).",
		}, []string{"result"})

		p.forced = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "supervisor",
			Name:      "forced_reconnects_total",
			Help:      "Reconnects forced by the supervisor, by reason.",
		}, []string{"reason"})

		p.stashDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "supervisor",
			Name:      "stash_depth",
			Help:      "Requests deferred until the next Connected transition.",
		})

		p.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "stream",
			Name:      "deliveries_total",
			Help:      "Stream deliveries by consumer and result (ack,requeue,discard).",
		}, []string{"consumer", "result"})

		p.reg.MustRegister(
			p.mode,
			p.connectAttempts,
			p.admissions,
			p.forced,
			p.stashDepth,
			p.deliveries,
		)
	})
}

// SetMode marks mode as current.
func (p *Prometheus) SetMode(mode string) {
	p.ensureRegistered()
	for _, m := range modes {
		v := 0.0
		if m == mode {
			v = 1
		}
		p.mode.WithLabelValues(m).Set(v)
	}
}

// ConnectAttempt counts one establishment attempt.
func (p *Prometheus) ConnectAttempt(success bool) {
	p.ensureRegistered()
	result := "failure"
	if success {
		result = "success"
	}
	p.connectAttempts.WithLabelValues(result).Inc()
}

// Admission counts one admission outcome.
func (p *Prometheus) Admission(result string) {
	p.ensureRegistered()
	p.admissions.WithLabelValues(result).Inc()
}

// ForcedReconnect counts one supervisor-initiated reconnect.
func (p *Prometheus) ForcedReconnect(reason string) {
	p.ensureRegistered()
	p.forced.WithLabelValues(reason).Inc()
}

// SetStashDepth records the number of deferred requests.
func (p *Prometheus) SetStashDepth(n int) {
	p.ensureRegistered()
	p.stashDepth.Set(float64(n))
}

// Delivery counts one stream delivery outcome.
func (p *Prometheus) Delivery(consumer, result string) {
	p.ensureRegistered()
	p.deliveries.WithLabelValues(consumer, result).Inc()
}
