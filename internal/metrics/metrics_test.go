package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums every series of a counter family whose labels contain want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			matched := true
			for k, v := range want {
				if labels[k] != v {
					matched = false
				}
			}
			if matched {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestCollector_CountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.IssueOutcome("created")
	c.IssueOutcome("created")
	c.IssueOutcome("rejected")
	c.RecordStoreFailure("increment")
	c.SweepResult(3, 1)

	assert.Equal(t, 2.0, counterValue(t, reg, "pix_charges_issued_total", map[string]string{"outcome": "created"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "pix_charges_issued_total", map[string]string{"outcome": "rejected"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "pix_admission_store_failures_total", map[string]string{"operation": "increment"}))
	assert.Equal(t, 3.0, counterValue(t, reg, "pix_charges_expired_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "pix_expiration_sweep_errors_total", nil))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.IssueOutcome("created")
		c.IdempotentReplay()
		c.AdmissionDenied("banned")
		c.RecordStoreFailure("ttl")
		c.Transition("EXPIRED")
		c.SweepResult(1, 0)
	})
}
