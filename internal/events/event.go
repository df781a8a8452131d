// Package events defines the lifecycle event stream emitted while
// verification sessions move through their states.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/funniceguy/trendsentry/internal/verify"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported lifecycle event kinds.
const (
	KindSessionCreated  Kind = "SESSION_CREATED"
	KindCreateFailed    Kind = "CREATE_FAILED"
	KindStateChanged    Kind = "STATE_CHANGED"
	KindSyncFailed      Kind = "SYNC_FAILED"
	KindReportArchived  Kind = "REPORT_ARCHIVED"
	KindAnomalyDetected Kind = "ANOMALY_DETECTED"
)

// Event captures a single verification lifecycle milestone.
type Event struct {
	// SessionID scopes the event to one verification card. It is empty
	// only for KindAnomalyDetected, which can fire before a session
	// exists.
	SessionID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which milestone occurred.
	Kind Kind
	// Query is the search query the card verifies.
	Query string
	// FromState and ToState carry the transition for KindStateChanged.
	FromState verify.State
	ToState   verify.State
	// Source scopes anomaly events to the crawler endpoint involved.
	Source verify.SourceID
	// Code carries the anomaly code for KindAnomalyDetected.
	Code verify.AnomalyCode
	// Note lets emitters attach low-volume context (e.g. error text or
	// an archive URI).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindSessionCreated, KindCreateFailed, KindSyncFailed, KindReportArchived:
		if e.SessionID == "" {
			return errors.New("session id is required")
		}
	case KindStateChanged:
		if e.SessionID == "" {
			return errors.New("session id is required")
		}
		if e.ToState == "" {
			return errors.New("state change requires target state")
		}
	case KindAnomalyDetected:
		if e.Source == "" {
			return errors.New("anomaly event requires source")
		}
		if e.Code == "" {
			return errors.New("anomaly event requires code")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
