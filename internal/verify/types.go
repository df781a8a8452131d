// Package verify defines core types shared across subsystems.
package verify

import "time"

// State represents the lifecycle state of a verification session.
type State string

// Verification states. All but StateCreateFailed mirror the remote
// agent's session state machine; StateCreateFailed is local-only and
// marks sessions that never started.
const (
	StateQueued       State = "QUEUED"
	StatePlanning     State = "PLANNING"
	StatePlanReview   State = "PLAN_REVIEW"
	StateInProgress   State = "IN_PROGRESS"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
	StateCreateFailed State = "CREATE_FAILED"
)

// SourceID identifies one monitored crawler endpoint.
type SourceID string

// Monitored sources probed by the health checker.
const (
	SourceTrends SourceID = "trends"
	SourceVideos SourceID = "videos"
	SourceForum  SourceID = "forum"
)

// AnomalyCode classifies a detected health-check deviation.
type AnomalyCode string

// Anomaly codes emitted by the health checker.
const (
	AnomalyHTTPStatus        AnomalyCode = "HTTP_STATUS_ERROR"
	AnomalyPayloadNotSuccess AnomalyCode = "PAYLOAD_NOT_SUCCESS"
	AnomalyLowItemCount      AnomalyCode = "LOW_ITEM_COUNT"
	AnomalyRequestFailed     AnomalyCode = "REQUEST_FAILED"
)

// Severity ranks anomalies for triage.
type Severity string

// Anomaly severities.
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// HealthCheck is an immutable snapshot of one probe result.
type HealthCheck struct {
	ID         SourceID  `json:"id"`
	Label      string    `json:"label"`
	Endpoint   string    `json:"endpoint"`
	StatusCode int       `json:"status_code"`
	ItemCount  int       `json:"item_count"`
	Passed     bool      `json:"passed"`
	CheckedAt  time.Time `json:"checked_at"`
	Message    string    `json:"message"`
}

// Anomaly records one detected deviation with a remediation hint.
type Anomaly struct {
	ID             string      `json:"id"`
	CheckID        SourceID    `json:"check_id"`
	Severity       Severity    `json:"severity"`
	Code           AnomalyCode `json:"code"`
	Message        string      `json:"message"`
	Recommendation string      `json:"recommendation"`
}

// HealthSnapshot aggregates one health-check run. It is computed per
// invocation and never persisted.
type HealthSnapshot struct {
	CheckedAt       time.Time     `json:"checked_at"`
	Checks          []HealthCheck `json:"checks"`
	Anomalies       []Anomaly     `json:"anomalies"`
	AnomalyDetected bool          `json:"anomaly_detected"`
	Summary         string        `json:"summary"`
	PassCount       int           `json:"pass_count"`
	TotalCount      int           `json:"total_count"`
}

// ActivityType classifies a session activity record.
type ActivityType string

// Activity types reported by the remote agent, plus the local SYSTEM
// type used for synthetic entries (sync failures).
const (
	ActivityPlanGenerated     ActivityType = "PLAN_GENERATED"
	ActivityMessage           ActivityType = "MESSAGE"
	ActivityExecutionComplete ActivityType = "EXECUTION_COMPLETE"
	ActivityError             ActivityType = "ERROR"
	ActivityPlanApproved      ActivityType = "PLAN_APPROVED"
	ActivitySystem            ActivityType = "SYSTEM"
)

// Activity is one entry in a card's newest-first activity log.
type Activity struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Message   string       `json:"message"`
}

// Card tracks one escalated verification session through its lifecycle.
// The session ID is derived from the external session identifier and is
// stable for the card's lifetime.
type Card struct {
	SessionID       string        `json:"session_id"`
	Query           string        `json:"query"`
	Category        string        `json:"category"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	State           State         `json:"state"`
	Progress        int           `json:"progress"`
	StatusMessage   string        `json:"status_message"`
	ExternalURL     string        `json:"external_url,omitempty"`
	CrawlChecks     []HealthCheck `json:"crawl_checks"`
	CrawlVerified   bool          `json:"crawl_verified"`
	CrawlSummary    string        `json:"crawl_summary"`
	AnomalyDetected bool          `json:"anomaly_detected"`
	Anomalies       []Anomaly     `json:"anomalies"`
	Activities      []Activity    `json:"activities"`
	ReportMarkdown  string        `json:"report_markdown"`
	ReportSummary   string        `json:"report_summary"`
	AudioText       string        `json:"audio_text"`
	ArchiveURI      string        `json:"archive_uri,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Stats summarizes the card population against the session cap. It is
// derived by scanning current cards, never stored.
type Stats struct {
	MaxSessions int `json:"max_sessions"`
	Active      int `json:"active"`
	Available   int `json:"available"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	TotalCards  int `json:"total_cards"`
}
