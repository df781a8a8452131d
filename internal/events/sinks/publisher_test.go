package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/funniceguy/trendsentry/internal/events"
	pubmemory "github.com/funniceguy/trendsentry/internal/publisher/memory"
	"github.com/funniceguy/trendsentry/internal/verify"
)

func TestPublisherSinkForwardsEvents(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	sink, err := NewPublisherSink(pub, "verification-lifecycle")
	require.NoError(t, err)

	batch := []events.Event{
		{SessionID: "s-1", TS: time.Now().UTC(), Kind: events.KindStateChanged,
			FromState: verify.StateInProgress, ToState: verify.StateCompleted},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.MessagesFor("verification-lifecycle")
	require.Len(t, msgs, 1)
	payload, ok := msgs[0].Payload.(notification)
	require.True(t, ok)
	require.Equal(t, "s-1", payload.SessionID)
	require.Equal(t, verify.StateCompleted, payload.ToState)
}

func TestNewPublisherSinkRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := NewPublisherSink(nil, "")
	require.Error(t, err)
}
