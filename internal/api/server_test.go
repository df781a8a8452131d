package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	archivememory "github.com/funniceguy/trendsentry/internal/archive/memory"
	"github.com/funniceguy/trendsentry/internal/config"
	"github.com/funniceguy/trendsentry/internal/orchestrator"
	storememory "github.com/funniceguy/trendsentry/internal/store/memory"
	"github.com/funniceguy/trendsentry/internal/verify"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeIDGen struct{ n int }

func (g *fakeIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fakeHealth struct {
	snapshot verify.HealthSnapshot
}

func (f *fakeHealth) Run(context.Context, *http.Request) verify.HealthSnapshot {
	return f.snapshot
}

type fakeGateway struct {
	mu sync.Mutex

	session    verify.Session
	createErr  error
	listErr    error
	sources    []string
	sourcesErr error
	sent       []string
	sendErr    error
}

func (g *fakeGateway) CreateSession(_ context.Context, _ verify.CreateSessionParams) (verify.Session, error) {
	if g.createErr != nil {
		return verify.Session{}, g.createErr
	}
	return g.session, nil
}

func (g *fakeGateway) GetSession(context.Context, string) (verify.Session, error) {
	return g.session, nil
}

func (g *fakeGateway) ListSessions(context.Context, verify.PageOpts) (verify.SessionPage, error) {
	if g.listErr != nil {
		return verify.SessionPage{}, g.listErr
	}
	return verify.SessionPage{Sessions: []verify.Session{g.session}}, nil
}

func (g *fakeGateway) ApprovePlan(context.Context, string) error { return nil }

func (g *fakeGateway) SendMessage(_ context.Context, sessionID string, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, sessionID+": "+message)
	return nil
}

func (g *fakeGateway) ListActivities(context.Context, string, verify.PageOpts) (verify.ActivityPage, error) {
	return verify.ActivityPage{}, nil
}

func (g *fakeGateway) ListSources(context.Context) ([]string, error) {
	if g.sourcesErr != nil {
		return nil, g.sourcesErr
	}
	return g.sources, nil
}

type fakeTTS struct {
	audio []byte
	err   error
	text  string
}

func (f *fakeTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.text = text
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}

func anomalousSnapshot() verify.HealthSnapshot {
	return verify.HealthSnapshot{
		Checks: []verify.HealthCheck{
			{ID: verify.SourceTrends, Label: "Trends crawler", StatusCode: 200, ItemCount: 25, Passed: true},
			{ID: verify.SourceForum, Label: "Forum crawler", StatusCode: 500, Passed: false},
		},
		Anomalies: []verify.Anomaly{{
			ID:       "a-1",
			CheckID:  verify.SourceForum,
			Severity: verify.SeverityCritical,
			Code:     verify.AnomalyHTTPStatus,
			Message:  "Forum crawler returned HTTP 500",
		}},
		AnomalyDetected: true,
		Summary:         "Detected 1 anomalies (1/2 healthy)",
		PassCount:       1,
		TotalCount:      2,
	}
}

func healthySnapshot() verify.HealthSnapshot {
	return verify.HealthSnapshot{
		Checks: []verify.HealthCheck{
			{ID: verify.SourceTrends, Label: "Trends crawler", StatusCode: 200, ItemCount: 25, Passed: true},
		},
		Summary:    "All crawler checks healthy (1/1)",
		PassCount:  1,
		TotalCount: 1,
	}
}

type fixture struct {
	server  *Server
	store   *storememory.CardStore
	gateway *fakeGateway
	health  *fakeHealth
	tts     *fakeTTS
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	f := &fixture{
		store: storememory.NewCardStore(),
		gateway: &fakeGateway{
			session: verify.Session{ID: "s-1", Name: "sessions/s-1", State: "QUEUED", URL: "https://agent.example.com/s-1"},
			sources: []string{"sources/github/funniceguy/trendsentry"},
		},
		health: &fakeHealth{snapshot: healthySnapshot()},
		tts:    &fakeTTS{audio: []byte("mp3-bytes")},
	}
	orch, err := orchestrator.New(orchestrator.Config{MaxSessions: cfg.Verification.MaxSessions}, orchestrator.Deps{
		Store:   f.store,
		Gateway: f.gateway,
		Health:  f.health,
		Archive: archivememory.NewBlobStore(),
		Clock:   &fakeClock{now: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		IDGen:   &fakeIDGen{},
	})
	require.NoError(t, err)
	f.server = NewServer(orch, f.health, f.gateway, f.tts, cfg, zap.NewNop())
	return f
}

func doJSON(t *testing.T, server *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_StartVerification_SkipsWhenHealthy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", `{"query":"kimchi recipes"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Skipped bool   `json:"skipped"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Skipped)
	require.Contains(t, resp.Reason, "anomaly")
}

func TestServer_StartVerification_CreatesCardOnAnomaly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.health.snapshot = anomalousSnapshot()
	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", `{"query":"kimchi recipes","category":"food"}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Card  *verify.Card `json:"card"`
		Stats verify.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Card)
	require.Equal(t, "s-1", resp.Card.SessionID)
	require.Equal(t, verify.StateQueued, resp.Card.State)
	require.Equal(t, 1, resp.Stats.Active)
}

func TestServer_StartVerification_ForceBypassesHealthyCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", `{"query":"kimchi recipes","force":true}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "s-1")
}

func TestServer_StartVerification_InvalidJSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", "{invalid")

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StartVerification_EmptyQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", `{"query":"   "}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "query is required")
}

func TestServer_StartVerification_CapacityConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{Verification: config.VerificationConfig{MaxSessions: 2}})
	for i := 0; i < 2; i++ {
		require.NoError(t, f.store.Upsert(context.Background(), verify.Card{
			SessionID: fmt.Sprintf("s-active-%d", i),
			State:     verify.StateInProgress,
		}))
	}

	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", `{"query":"kimchi recipes","force":true}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "limit")
}

func TestServer_ListVerifications(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.health.snapshot = anomalousSnapshot()
	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", `{"query":"kimchi recipes"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, f.server, http.MethodGet, "/v1/verifications", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Cards []verify.Card `json:"cards"`
		Stats verify.Stats  `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Cards, 1)
	require.Equal(t, "s-1", resp.Cards[0].SessionID)
	require.Equal(t, 1, resp.Stats.TotalCards)
}

func TestServer_GetVerification_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doJSON(t, f.server, http.MethodGet, "/v1/verifications/missing", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetVerification_RefreshesCard(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.health.snapshot = anomalousSnapshot()
	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", `{"query":"kimchi recipes"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	f.gateway.session.State = "IN_PROGRESS"
	rec = doJSON(t, f.server, http.MethodGet, "/v1/verifications/s-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Card  verify.Card  `json:"card"`
		Stats verify.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, verify.StateInProgress, resp.Card.State)
	require.Equal(t, 70, resp.Card.Progress)
	require.Equal(t, 1, resp.Stats.Active)
}

func TestServer_GetVerificationAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.health.snapshot = anomalousSnapshot()
	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", `{"query":"kimchi recipes"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, f.server, http.MethodGet, "/v1/verifications/s-1/audio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Equal(t, `inline; filename="s-1.mp3"`, rec.Header().Get("Content-Disposition"))
	require.Equal(t, "mp3-bytes", rec.Body.String())
	require.Contains(t, f.tts.text, "kimchi recipes")
}

func TestServer_GetVerificationAudio_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doJSON(t, f.server, http.MethodGet, "/v1/verifications/missing/audio", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetVerificationAudio_ProviderFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.health.snapshot = anomalousSnapshot()
	rec := doJSON(t, f.server, http.MethodPost, "/v1/verifications", `{"query":"kimchi recipes"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	f.tts.err = errors.New("tts provider returned 429")
	rec = doJSON(t, f.server, http.MethodGet, "/v1/verifications/s-1/audio", "")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "speech synthesis failed")
}

func TestServer_CrawlerHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.health.snapshot = anomalousSnapshot()
	rec := doJSON(t, f.server, http.MethodGet, "/v1/crawler-health", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot verify.HealthSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.True(t, snapshot.AnomalyDetected)
	require.Len(t, snapshot.Anomalies, 1)
}

func TestServer_SessionPassthroughs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})

	rec := doJSON(t, f.server, http.MethodGet, "/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sessions/s-1")

	rec = doJSON(t, f.server, http.MethodGet, "/v1/sessions/s-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, f.server, http.MethodGet, "/v1/sessions/s-1/activities", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, f.server, http.MethodPost, "/v1/sessions/s-1/message", `{"message":"please re-check the forum feed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.gateway.sent, 1)
	require.Contains(t, f.gateway.sent[0], "please re-check")
}

func TestServer_SendMessage_MissingBody(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doJSON(t, f.server, http.MethodPost, "/v1/sessions/s-1/message", `{"message":"  "}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListSources_GatewayError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	f.gateway.sourcesErr = errors.New("boom")
	rec := doJSON(t, f.server, http.MethodGet, "/v1/sources", "")

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	f := newFixture(t, cfg)

	rec := doJSON(t, f.server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, f.server, http.MethodGet, "/healthz?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})

	rec := doJSON(t, f.server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")

	rec = doJSON(t, f.server, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ready")
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t, config.Config{})
	rec := doJSON(t, f.server, http.MethodGet, "/healthz", "")

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
