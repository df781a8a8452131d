package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/funniceguy/trendsentry/internal/verify"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.Client(), Config{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return client
}

func TestNormalizeSessionID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		session verify.Session
		want    string
	}{
		{"bare id wins", verify.Session{ID: "abc", Name: "sessions/def"}, "abc"},
		{"derived from name", verify.Session{Name: "sessions/def"}, "def"},
		{"plain name", verify.Session{Name: "def"}, "def"},
		{"whitespace id ignored", verify.Session{ID: "  ", Name: "sessions/xyz"}, "xyz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NormalizeSessionID(tc.session))
		})
	}
}

func TestCreateSessionSendsKeyAndNormalizes(t *testing.T) {
	t.Parallel()

	var gotKey string
	var gotParams verify.CreateSessionParams
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sessions", r.URL.Path)
		gotKey = r.Header.Get("X-Goog-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotParams))
		_ = json.NewEncoder(w).Encode(verify.Session{
			Name:  "sessions/session-123",
			State: "QUEUED",
			URL:   "https://agent.example.com/session-123",
		})
	}))

	session, err := client.CreateSession(context.Background(), verify.CreateSessionParams{
		Prompt: "analyze this",
		Title:  "Verification: kimchi",
	})
	require.NoError(t, err)
	require.Equal(t, "test-key", gotKey)
	require.Equal(t, "analyze this", gotParams.Prompt)
	require.Equal(t, "session-123", session.ID)
	require.Equal(t, "QUEUED", session.State)
}

func TestGetSessionAcceptsResourceName(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/abc", r.URL.Path)
		_ = json.NewEncoder(w).Encode(verify.Session{Name: "sessions/abc", State: "PLANNING"})
	}))

	for _, id := range []string{"abc", "sessions/abc"} {
		session, err := client.GetSession(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, "abc", session.ID)
	}
}

func TestNon2xxCarriesResponseBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("quota exhausted"))
	}))

	_, err := client.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
	require.Contains(t, err.Error(), "quota exhausted")
}

func TestApprovePlanAndSendMessage(t *testing.T) {
	t.Parallel()

	var paths []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.ApprovePlan(context.Background(), "abc"))
	require.NoError(t, client.SendMessage(context.Background(), "abc", "hello"))
	require.Equal(t, []string{"/sessions/abc:approvePlan", "/sessions/abc:sendMessage"}, paths)
}

func TestListActivitiesPaging(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/abc/activities", r.URL.Path)
		require.Equal(t, "30", r.URL.Query().Get("pageSize"))
		require.Equal(t, "tok", r.URL.Query().Get("pageToken"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"activities": []map[string]any{
				{"id": "act-1", "type": "MESSAGE", "timestamp": "2026-01-02T03:04:05Z"},
			},
			"nextPageToken": "tok2",
		})
	}))

	page, err := client.ListActivities(context.Background(), "abc", verify.PageOpts{PageSize: 30, PageToken: "tok"})
	require.NoError(t, err)
	require.Len(t, page.Activities, 1)
	require.Equal(t, "act-1", page.Activities[0].ID)
	require.Equal(t, "tok2", page.NextPageToken)
}

func TestListSources(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sources", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"sources": []string{"sources/github/acme/dashboard"}})
	}))

	sources, err := client.ListSources(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"sources/github/acme/dashboard"}, sources)
}
