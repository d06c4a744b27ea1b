package provision

import (
	"github.com/prometheus/client_golang/prometheus"
)

func (s *Service) initMetrics() {
	s.metricsOnce.Do(func() {
		s.provisionResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coderoom",
			Subsystem: "worker",
			Name:      "provision_results_total",
			Help:      "Number of provisioning job outcomes",
		}, []string{"outcome"})

		if err := prometheus.Register(s.provisionResults); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
					s.provisionResults = existing
				}
			}
		}
		s.metricsInitialized = true
	})
}

func (s *Service) recordOutcome(outcome string) {
	if !s.metricsInitialized {
		return
	}
	s.provisionResults.With(prometheus.Labels{"outcome": outcome}).Inc()
}
