// Package orchestrator drives the verification session lifecycle: it
// decides when crawler health escalates into a remote agent session,
// keeps cards in sync with the remote state machine, and renders and
// archives their reports.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/funniceguy/trendsentry/internal/events"
	"github.com/funniceguy/trendsentry/internal/metrics"
	"github.com/funniceguy/trendsentry/internal/report"
	"github.com/funniceguy/trendsentry/internal/verify"
)

// Expected refusal outcomes of Verify.
var (
	ErrQueryRequired    = errors.New("query is required")
	ErrCapacityExceeded = errors.New("max concurrent session limit reached")
)

// HealthRunner produces a crawler health snapshot for an inbound request.
type HealthRunner interface {
	Run(ctx context.Context, req *http.Request) verify.HealthSnapshot
}

// Config carries the orchestration policy knobs.
type Config struct {
	// MaxSessions caps concurrently active verification sessions.
	MaxSessions int
	// ActivityLimit caps the card's activity log and the page size
	// requested from the remote agent.
	ActivityLimit int
	// Source and StartingBranch identify the repository the remote
	// agent works in.
	Source         string
	StartingBranch string
	// AutomationMode is passed through to session creation.
	AutomationMode string
	// RequirePlanApproval asks the remote agent to wait for an explicit
	// plan approval. The refresh loop approves pending plans either way.
	RequirePlanApproval bool
	// ArchivePrefix and ArchiveContentType control report archiving.
	ArchivePrefix      string
	ArchiveContentType string
}

// Deps are the orchestrator's collaborators. Store, Gateway, Health,
// Clock and IDGen are required; Archive and Emitter are optional.
type Deps struct {
	Store   verify.CardStore
	Gateway verify.Gateway
	Health  HealthRunner
	Archive verify.BlobStore
	Emitter events.Emitter
	Clock   verify.Clock
	IDGen   verify.IDGenerator
	Logger  *zap.Logger
}

// Orchestrator coordinates health checks, the session gateway, and the
// card store.
type Orchestrator struct {
	cfg     Config
	store   verify.CardStore
	gateway verify.Gateway
	health  HealthRunner
	archive verify.BlobStore
	emitter events.Emitter
	clock   verify.Clock
	idGen   verify.IDGenerator
	logger  *zap.Logger
}

// New validates the dependencies and constructs an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("card store is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("health runner is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.IDGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 15
	}
	if cfg.ActivityLimit <= 0 {
		cfg.ActivityLimit = 30
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "reports"
	}
	if cfg.ArchiveContentType == "" {
		cfg.ArchiveContentType = "text/markdown"
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   deps.Store,
		gateway: deps.Gateway,
		health:  deps.Health,
		archive: deps.Archive,
		emitter: emitter,
		clock:   deps.Clock,
		idGen:   deps.IDGen,
		logger:  logger,
	}, nil
}

// VerifyParams are the caller-supplied escalation inputs.
type VerifyParams struct {
	Query    string
	Category string
	// Force escalates even when every health check passed.
	Force bool
}

// VerifyResult reports what Verify decided. Exactly one of Skipped or
// Card describes the outcome; Health and Stats are always populated.
type VerifyResult struct {
	Skipped bool
	Reason  string
	Card    *verify.Card
	Health  verify.HealthSnapshot
	Stats   verify.Stats
}

// Verify runs the health checks and, when an anomaly is detected (or
// the caller forces it), escalates into a remote verification session.
// A gateway create failure still yields a card, in CREATE_FAILED state,
// so operators see the attempt.
func (o *Orchestrator) Verify(ctx context.Context, req *http.Request, params VerifyParams) (VerifyResult, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return VerifyResult{}, ErrQueryRequired
	}
	category := strings.TrimSpace(params.Category)
	if category == "" {
		category = "general"
	}

	if err := o.store.TrimToMax(ctx, o.cfg.MaxSessions); err != nil {
		return VerifyResult{}, fmt.Errorf("trim cards: %w", err)
	}
	stats, err := o.store.Stats(ctx, o.cfg.MaxSessions)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("card stats: %w", err)
	}

	snapshot := o.health.Run(ctx, req)
	o.emitAnomalies(snapshot)

	// A healthy snapshot skips before capacity is considered: no session
	// would be created either way, and the caller still gets the snapshot.
	if !params.Force && !snapshot.AnomalyDetected {
		metrics.ObserveEscalation("skipped")
		return VerifyResult{
			Skipped: true,
			Reason:  "No crawler anomaly detected. Deep verification was not triggered.",
			Health:  snapshot,
			Stats:   stats,
		}, nil
	}

	if stats.Active >= o.cfg.MaxSessions {
		metrics.ObserveEscalation("capacity")
		return VerifyResult{}, fmt.Errorf("%w (%d)", ErrCapacityExceeded, o.cfg.MaxSessions)
	}

	session, err := o.gateway.CreateSession(ctx, verify.CreateSessionParams{
		Title:  "Verification: " + query,
		Prompt: buildPrompt(query, category, snapshot.Checks, snapshot.Anomalies),
		SourceContext: verify.SourceContext{
			Source:            o.cfg.Source,
			GitHubRepoContext: &verify.GitHubRepoContext{StartingBranch: o.cfg.StartingBranch},
		},
		RequirePlanApproval: o.cfg.RequirePlanApproval,
		AutomationMode:      o.cfg.AutomationMode,
	})
	if err != nil {
		card := o.newCard(query, category, snapshot, verify.Session{
			ID:    fmt.Sprintf("session-%d", o.clock.Now().UnixMilli()),
			State: string(verify.StateCreateFailed),
		})
		card.State = verify.StateCreateFailed
		card.Progress = card.State.Progress()
		card.StatusMessage = "Session creation failed: " + err.Error()
		card.Error = err.Error()
		report.Refresh(&card)
		if upsertErr := o.store.Upsert(ctx, card); upsertErr != nil {
			return VerifyResult{}, fmt.Errorf("store failed card: %w", upsertErr)
		}
		metrics.ObserveEscalation("create_failed")
		o.emitter.Emit(events.Event{
			SessionID: card.SessionID,
			TS:        o.clock.Now(),
			Kind:      events.KindCreateFailed,
			Query:     query,
			Note:      err.Error(),
		})
		o.logger.Warn("verification session creation failed",
			zap.String("query", query), zap.Error(err))
		stats, _ = o.store.Stats(ctx, o.cfg.MaxSessions)
		return VerifyResult{Card: &card, Health: snapshot, Stats: stats}, nil
	}

	card := o.newCard(query, category, snapshot, session)
	report.Refresh(&card)
	if err := o.store.Upsert(ctx, card); err != nil {
		return VerifyResult{}, fmt.Errorf("store card: %w", err)
	}
	metrics.ObserveEscalation("created")
	o.emitter.Emit(events.Event{
		SessionID: card.SessionID,
		TS:        o.clock.Now(),
		Kind:      events.KindSessionCreated,
		Query:     query,
	})
	stats, _ = o.store.Stats(ctx, o.cfg.MaxSessions)
	metrics.SetActiveSessions(stats.Active)
	return VerifyResult{Card: &card, Health: snapshot, Stats: stats}, nil
}

// newCard builds the initial card for a freshly created session.
func (o *Orchestrator) newCard(query, category string, snapshot verify.HealthSnapshot, session verify.Session) verify.Card {
	now := o.clock.Now()
	state := verify.NormalizeState(session.State)
	verified := true
	for _, check := range snapshot.Checks {
		if !check.Passed {
			verified = false
			break
		}
	}
	return verify.Card{
		SessionID:       session.ID,
		Query:           query,
		Category:        category,
		CreatedAt:       now,
		UpdatedAt:       now,
		State:           state,
		Progress:        state.Progress(),
		StatusMessage:   state.Label(),
		ExternalURL:     session.URL,
		CrawlChecks:     snapshot.Checks,
		CrawlVerified:   verified,
		CrawlSummary:    snapshot.Summary,
		AnomalyDetected: snapshot.AnomalyDetected,
		Anomalies:       snapshot.Anomalies,
		Activities:      []verify.Activity{},
	}
}

// RefreshCard pulls the latest remote state into the card and persists
// it. A sync failure keeps the previous state and appends a synthetic
// SYSTEM activity instead of failing the caller.
func (o *Orchestrator) RefreshCard(ctx context.Context, card verify.Card) (verify.Card, error) {
	if card.State == verify.StateCreateFailed {
		return card, nil
	}

	session, err := o.gateway.GetSession(ctx, card.SessionID)
	if err != nil {
		return o.recordSyncFailure(ctx, card, err)
	}

	if verify.NormalizeState(session.State) == verify.StatePlanReview {
		if approveErr := o.gateway.ApprovePlan(ctx, card.SessionID); approveErr != nil {
			// Approval is best-effort; keep polling.
			o.logger.Debug("plan approval failed",
				zap.String("session_id", card.SessionID), zap.Error(approveErr))
		}
	}

	nextState := verify.NormalizeState(session.State)
	latestMessage := "Session state changed to " + nextState.Label()
	activities := sortNewestFirst(card.Activities, o.cfg.ActivityLimit)
	page, actErr := o.gateway.ListActivities(ctx, card.SessionID, verify.PageOpts{PageSize: o.cfg.ActivityLimit})
	if actErr != nil {
		// Activity history is optional for progress updates.
		o.logger.Debug("activity listing failed",
			zap.String("session_id", card.SessionID), zap.Error(actErr))
	} else {
		activities = sortNewestFirst(toActivities(page.Activities), o.cfg.ActivityLimit)
	}
	if len(activities) > 0 && activities[0].Message != "" {
		latestMessage = activities[0].Message
	}

	prevState := card.State
	card.State = nextState
	card.Progress = nextState.Progress()
	card.StatusMessage = latestMessage
	card.UpdatedAt = o.clock.Now()
	card.Activities = activities
	if session.URL != "" {
		card.ExternalURL = session.URL
	}
	card.Error = ""
	if nextState == verify.StateFailed {
		card.Error = latestMessage
	}
	report.Refresh(&card)

	if nextState != prevState {
		metrics.ObserveStateChange(string(nextState))
		o.emitter.Emit(events.Event{
			SessionID: card.SessionID,
			TS:        card.UpdatedAt,
			Kind:      events.KindStateChanged,
			Query:     card.Query,
			FromState: prevState,
			ToState:   nextState,
		})
	}
	if nextState.IsTerminal() && !prevState.IsTerminal() {
		o.archiveReport(ctx, &card)
	}

	if err := o.store.Upsert(ctx, card); err != nil {
		return verify.Card{}, fmt.Errorf("store refreshed card: %w", err)
	}
	return card, nil
}

// recordSyncFailure keeps the card's state, marks the error, and logs a
// synthetic activity so the failure is visible in the card history.
func (o *Orchestrator) recordSyncFailure(ctx context.Context, card verify.Card, syncErr error) (verify.Card, error) {
	now := o.clock.Now()
	message := "Session sync failed: " + syncErr.Error()
	id, err := o.idGen.NewID()
	if err != nil {
		id = fmt.Sprintf("system-%d", now.UnixNano())
	}
	activities := append([]verify.Activity{{
		ID:        id,
		Type:      verify.ActivitySystem,
		Timestamp: now,
		Message:   message,
	}}, card.Activities...)

	card.UpdatedAt = now
	card.StatusMessage = message
	card.Error = syncErr.Error()
	card.Activities = sortNewestFirst(activities, o.cfg.ActivityLimit)
	report.Refresh(&card)

	metrics.ObserveSyncFailure()
	o.emitter.Emit(events.Event{
		SessionID: card.SessionID,
		TS:        now,
		Kind:      events.KindSyncFailed,
		Query:     card.Query,
		Note:      syncErr.Error(),
	})
	if err := o.store.Upsert(ctx, card); err != nil {
		return verify.Card{}, fmt.Errorf("store failed sync: %w", err)
	}
	return card, nil
}

// archiveReport writes the rendered markdown to the archive and records
// the URI on the card. Failures are logged, never fatal.
func (o *Orchestrator) archiveReport(ctx context.Context, card *verify.Card) {
	if o.archive == nil {
		return
	}
	path := fmt.Sprintf("%s/%s.md", o.cfg.ArchivePrefix, card.SessionID)
	uri, err := o.archive.PutObject(ctx, path, o.cfg.ArchiveContentType, strings.NewReader(card.ReportMarkdown))
	if err != nil {
		o.logger.Warn("report archiving failed",
			zap.String("session_id", card.SessionID), zap.Error(err))
		return
	}
	card.ArchiveURI = uri
	o.emitter.Emit(events.Event{
		SessionID: card.SessionID,
		TS:        o.clock.Now(),
		Kind:      events.KindReportArchived,
		Query:     card.Query,
		Note:      uri,
	})
}

// RefreshAll trims the store and refreshes every card sequentially.
func (o *Orchestrator) RefreshAll(ctx context.Context) ([]verify.Card, error) {
	if err := o.store.TrimToMax(ctx, o.cfg.MaxSessions); err != nil {
		return nil, fmt.Errorf("trim cards: %w", err)
	}
	cards, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	refreshed := make([]verify.Card, 0, len(cards))
	for _, card := range cards {
		next, err := o.RefreshCard(ctx, card)
		if err != nil {
			return nil, err
		}
		refreshed = append(refreshed, next)
	}
	if stats, err := o.store.Stats(ctx, o.cfg.MaxSessions); err == nil {
		metrics.SetActiveSessions(stats.Active)
	}
	return refreshed, nil
}

// RefreshByID loads one card and refreshes it.
func (o *Orchestrator) RefreshByID(ctx context.Context, sessionID string) (verify.Card, error) {
	card, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return verify.Card{}, err
	}
	return o.RefreshCard(ctx, card)
}

// Stats reports the card population against the session cap.
func (o *Orchestrator) Stats(ctx context.Context) (verify.Stats, error) {
	return o.store.Stats(ctx, o.cfg.MaxSessions)
}

func (o *Orchestrator) emitAnomalies(snapshot verify.HealthSnapshot) {
	for _, anomaly := range snapshot.Anomalies {
		o.emitter.Emit(events.Event{
			TS:     o.clock.Now(),
			Kind:   events.KindAnomalyDetected,
			Source: anomaly.CheckID,
			Code:   anomaly.Code,
			Note:   anomaly.Message,
		})
	}
}
