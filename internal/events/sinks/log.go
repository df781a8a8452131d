// Package sinks contains Sink implementations for the lifecycle hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/funniceguy/trendsentry/internal/events"
)

// LogSink emits structured logs for the lifecycle stream. It is the
// default sink and doubles as an audit trail in development.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionID),
			zap.String("kind", string(evt.Kind)),
			zap.String("query", evt.Query),
			zap.Time("ts", evt.TS),
		}
		if evt.Kind == events.KindStateChanged {
			fields = append(fields,
				zap.String("from_state", string(evt.FromState)),
				zap.String("to_state", string(evt.ToState)),
			)
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", string(evt.Source)))
		}
		if evt.Code != "" {
			fields = append(fields, zap.String("code", string(evt.Code)))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("lifecycle event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
