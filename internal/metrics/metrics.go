package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus collectors of the charge service.
// A nil *Collector is valid and records nothing.
type Collector struct {
	chargesIssued          *prometheus.CounterVec
	idempotentReplays      prometheus.Counter
	admissionDenials       *prometheus.CounterVec
	admissionStoreFailures *prometheus.CounterVec
	chargeTransitions      *prometheus.CounterVec
	chargesExpired         prometheus.Counter
	sweepErrors            prometheus.Counter
}

// NewCollector registers every collector on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		chargesIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pix_charges_issued_total",
				Help: "Issuance attempts by outcome",
			},
			[]string{"outcome"},
		),
		idempotentReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "pix_charges_idempotent_replays_total",
			Help: "Issuance requests answered from an existing charge",
		}),
		admissionDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pix_admission_denials_total",
				Help: "Requests rejected by admission control",
			},
			[]string{"reason"},
		),
		admissionStoreFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pix_admission_store_failures_total",
				Help: "Counter store failures that were treated as allowed",
			},
			[]string{"operation"},
		),
		chargeTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pix_charge_transitions_total",
				Help: "Charge lifecycle transitions by target status",
			},
			[]string{"status"},
		),
		chargesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "pix_charges_expired_total",
			Help: "Charges moved to EXPIRED by the sweeper",
		}),
		sweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pix_expiration_sweep_errors_total",
			Help: "Charges the sweeper failed to expire",
		}),
	}
}

func (c *Collector) IssueOutcome(outcome string) {
	if c == nil {
		return
	}
	c.chargesIssued.WithLabelValues(outcome).Inc()
}

func (c *Collector) IdempotentReplay() {
	if c == nil {
		return
	}
	c.idempotentReplays.Inc()
}

func (c *Collector) AdmissionDenied(reason string) {
	if c == nil {
		return
	}
	c.admissionDenials.WithLabelValues(reason).Inc()
}

// RecordStoreFailure satisfies admission.FailureRecorder.
func (c *Collector) RecordStoreFailure(operation string) {
	if c == nil {
		return
	}
	c.admissionStoreFailures.WithLabelValues(operation).Inc()
}

func (c *Collector) Transition(status string) {
	if c == nil {
		return
	}
	c.chargeTransitions.WithLabelValues(status).Inc()
}

func (c *Collector) SweepResult(expired, failed int) {
	if c == nil {
		return
	}
	c.chargesExpired.Add(float64(expired))
	c.sweepErrors.Add(float64(failed))
}
