package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/funniceguy/trendsentry/internal/events"
)

// PrometheusSink exports lifecycle counters. It owns its collectors so
// tests can register them against a private registry.
type PrometheusSink struct {
	lifecycleEvents *prometheus.CounterVec
	stateChanges    *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		lifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verifier_lifecycle_events_total",
			Help: "Lifecycle events partitioned by kind.",
		}, []string{"kind"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verifier_lifecycle_state_changes_total",
			Help: "Session state transitions partitioned by target state.",
		}, []string{"to_state"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verifier_lifecycle_anomalies_total",
			Help: "Anomaly events partitioned by source and code.",
		}, []string{"source", "code"}),
	}
	for _, collector := range []prometheus.Collector{
		s.lifecycleEvents,
		s.stateChanges,
		s.anomalies,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.lifecycleEvents.WithLabelValues(string(evt.Kind)).Inc()
		switch evt.Kind {
		case events.KindStateChanged:
			s.stateChanges.WithLabelValues(string(evt.ToState)).Inc()
		case events.KindAnomalyDetected:
			s.anomalies.WithLabelValues(string(evt.Source), string(evt.Code)).Inc()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
