package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/funniceguy/trendsentry/internal/events"
	"github.com/funniceguy/trendsentry/internal/verify"
)

func TestPrometheusSinkCountsEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []events.Event{
		{SessionID: "s-1", TS: now, Kind: events.KindSessionCreated, Query: "kimchi"},
		{SessionID: "s-1", TS: now, Kind: events.KindStateChanged, FromState: verify.StateQueued, ToState: verify.StatePlanning},
		{TS: now, Kind: events.KindAnomalyDetected, Source: verify.SourceForum, Code: verify.AnomalyHTTPStatus},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.lifecycleEvents.WithLabelValues(string(events.KindSessionCreated))))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.stateChanges.WithLabelValues(string(verify.StatePlanning))))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.anomalies.WithLabelValues("forum", "HTTP_STATUS_ERROR")))
}

func TestNewPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
