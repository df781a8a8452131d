package verify

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrCardNotFound signals that no card exists for the session id.
var ErrCardNotFound = errors.New("verification card not found")

// CardStore is the process-wide keyed registry of verification cards.
// List returns cards newest-created-first. Implementations must return
// copies so callers never share a mutable reference with the store.
type CardStore interface {
	Upsert(ctx context.Context, card Card) error
	Get(ctx context.Context, sessionID string) (Card, error)
	List(ctx context.Context) ([]Card, error)
	Remove(ctx context.Context, sessionID string) error
	// TrimToMax evicts the oldest terminal cards until the count is at
	// most max. Active cards are never evicted, so the store may remain
	// over capacity when all excess cards are in flight.
	TrimToMax(ctx context.Context, max int) error
	Stats(ctx context.Context, maxSessions int) (Stats, error)
}

// Session is the remote agent's session resource.
type Session struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	Title      string `json:"title"`
	Prompt     string `json:"prompt"`
	State      string `json:"state"`
	CreateTime string `json:"createTime"`
	UpdateTime string `json:"updateTime"`
	URL        string `json:"url"`
}

// SourceContext tells the remote agent which repository to work in.
type SourceContext struct {
	Source            string             `json:"source"`
	GitHubRepoContext *GitHubRepoContext `json:"githubRepoContext,omitempty"`
}

// GitHubRepoContext pins the starting branch for a session.
type GitHubRepoContext struct {
	StartingBranch string `json:"startingBranch"`
}

// CreateSessionParams is the request body for session creation.
type CreateSessionParams struct {
	Prompt              string        `json:"prompt"`
	Title               string        `json:"title,omitempty"`
	SourceContext       SourceContext `json:"sourceContext"`
	RequirePlanApproval bool          `json:"requirePlanApproval"`
	AutomationMode      string        `json:"automationMode,omitempty"`
}

// SessionActivity is one timestamped activity record reported by the
// remote agent for a session.
type SessionActivity struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Content   *ActivityContent `json:"content,omitempty"`
}

// ActivityContent carries the optional embedded payloads of an activity.
type ActivityContent struct {
	Plan    map[string]any       `json:"plan,omitempty"`
	Message string               `json:"message,omitempty"`
	Error   *ActivityErrorDetail `json:"error,omitempty"`
}

// ActivityErrorDetail is the error payload of an ERROR activity.
type ActivityErrorDetail struct {
	Message string `json:"message,omitempty"`
}

// PageOpts controls paging for list calls against the remote agent.
type PageOpts struct {
	PageSize  int
	PageToken string
}

// SessionPage is one page of sessions.
type SessionPage struct {
	Sessions      []Session `json:"sessions"`
	NextPageToken string    `json:"nextPageToken,omitempty"`
}

// ActivityPage is one page of session activities.
type ActivityPage struct {
	Activities    []SessionActivity `json:"activities"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

// Gateway is the typed client over the remote agent's session API.
// Every call is a single attempt; retries belong to the caller.
type Gateway interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListSessions(ctx context.Context, opts PageOpts) (SessionPage, error)
	ApprovePlan(ctx context.Context, sessionID string) error
	SendMessage(ctx context.Context, sessionID string, message string) error
	ListActivities(ctx context.Context, sessionID string, opts PageOpts) (ActivityPage, error)
	ListSources(ctx context.Context) ([]string, error)
}

// Publisher pushes lifecycle notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique ids for anomalies and synthetic activities.
type IDGenerator interface {
	NewID() (string, error)
}
