// Package metrics exports auth outcome counters to Prometheus.
package metrics

import (
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements ports.Metrics with counters registered on its own registry
type Prometheus struct {
	challenges    *prometheus.CounterVec
	verifications *prometheus.CounterVec
	emailLogins   *prometheus.CounterVec
}

// NewPrometheus creates the counters and registers them with reg
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sigil",
			Name:      "challenges_total",
			Help:      "Wallet challenges issued.",
		}, []string{"provider"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sigil",
			Name:      "verifications_total",
			Help:      "Wallet verification attempts by outcome.",
		}, []string{"provider", "outcome"}),
		emailLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sigil",
			Name:      "email_logins_total",
			Help:      "Email login attempts by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.challenges, m.verifications, m.emailLogins} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

var _ ports.Metrics = (*Prometheus)(nil)

func (m *Prometheus) ChallengeIssued(provider core.Provider) {
	m.challenges.WithLabelValues(provider.String()).Inc()
}

func (m *Prometheus) Verification(provider core.Provider, outcome string) {
	m.verifications.WithLabelValues(provider.String(), outcome).Inc()
}

func (m *Prometheus) EmailLogin(outcome string) {
	m.emailLogins.WithLabelValues(outcome).Inc()
}
