package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/funniceguy/trendsentry/internal/events"
	"github.com/funniceguy/trendsentry/internal/verify"
)

// PublisherSink forwards lifecycle events to a Publisher, one message
// per event, so downstream consumers can react to session milestones.
type PublisherSink struct {
	publisher verify.Publisher
	topic     string
}

// notification is the published wire form of an event.
type notification struct {
	SessionID string             `json:"session_id,omitempty"`
	Kind      events.Kind        `json:"kind"`
	Query     string             `json:"query,omitempty"`
	FromState verify.State       `json:"from_state,omitempty"`
	ToState   verify.State       `json:"to_state,omitempty"`
	Source    verify.SourceID    `json:"source,omitempty"`
	Code      verify.AnomalyCode `json:"code,omitempty"`
	Note      string             `json:"note,omitempty"`
	TS        time.Time          `json:"ts"`
}

// NewPublisherSink binds the publisher and topic.
func NewPublisherSink(publisher verify.Publisher, topic string) (*PublisherSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		topic = "verification-lifecycle"
	}
	return &PublisherSink{publisher: publisher, topic: topic}, nil
}

// Consume publishes each event; the first failure aborts the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	for _, evt := range batch {
		payload := notification{
			SessionID: evt.SessionID,
			Kind:      evt.Kind,
			Query:     evt.Query,
			FromState: evt.FromState,
			ToState:   evt.ToState,
			Source:    evt.Source,
			Code:      evt.Code,
			Note:      evt.Note,
			TS:        evt.TS,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
			return fmt.Errorf("publish lifecycle event: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
