package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/funniceguy/trendsentry/internal/verify"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// fakeIDGen is called from concurrent probe goroutines.
type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "anomaly-" + string(rune('a'+g.n-1)), nil
}

func trendsPayload(n int) map[string]any {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]any{"keyword": "k"}
	}
	return map[string]any{"success": true, "trends": items}
}

func newTestChecker(t *testing.T, mux *http.ServeMux, timeout time.Duration) (*Checker, *http.Request) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	checker := NewChecker(
		srv.Client(),
		Config{Timeout: timeout},
		DefaultSources(Thresholds{Trends: 20, Videos: 5, Forum: 5}),
		&fakeIDGen{},
		&fakeClock{now: time.Unix(1000, 0).UTC()},
		nil,
	)
	req := httptest.NewRequest(http.MethodGet, srv.URL+"/v1/crawler-health", nil)
	return checker, req
}

func writePayload(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func TestCheckerAllHealthy(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/trends", func(w http.ResponseWriter, _ *http.Request) {
		writePayload(w, trendsPayload(25))
	})
	mux.HandleFunc("/api/videos", func(w http.ResponseWriter, _ *http.Request) {
		writePayload(w, map[string]any{
			"success": true,
			"categories": []any{
				map[string]any{"videos": []any{1, 2, 3}},
				map[string]any{"videos": []any{4, 5, 6}},
			},
		})
	})
	mux.HandleFunc("/api/forum", func(w http.ResponseWriter, _ *http.Request) {
		writePayload(w, map[string]any{"success": true, "posts": []any{1, 2, 3, 4, 5}})
	})

	checker, req := newTestChecker(t, mux, 5*time.Second)
	snapshot := checker.Run(context.Background(), req)

	require.Equal(t, 3, snapshot.TotalCount)
	require.Equal(t, 3, snapshot.PassCount)
	require.False(t, snapshot.AnomalyDetected)
	require.Empty(t, snapshot.Anomalies)
	require.Contains(t, snapshot.Summary, "3/3")
	for _, check := range snapshot.Checks {
		require.True(t, check.Passed, "check %s should pass", check.ID)
	}
}

// TestCheckerIsolatesFailures covers one source timing out while the
// other two succeed: the batch must still report all three.
func TestCheckerIsolatesFailures(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/trends", func(w http.ResponseWriter, _ *http.Request) {
		writePayload(w, trendsPayload(25))
	})
	mux.HandleFunc("/api/videos", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/api/forum", func(w http.ResponseWriter, _ *http.Request) {
		writePayload(w, map[string]any{"success": true, "posts": []any{1, 2, 3, 4, 5}})
	})

	checker, req := newTestChecker(t, mux, 100*time.Millisecond)
	start := time.Now()
	snapshot := checker.Run(context.Background(), req)

	require.Less(t, time.Since(start), 2*time.Second, "slow probe must not delay the batch past its own timeout")
	require.Equal(t, 3, snapshot.TotalCount)
	require.Equal(t, 2, snapshot.PassCount)
	require.True(t, snapshot.AnomalyDetected)

	var videoCheck verify.HealthCheck
	for _, check := range snapshot.Checks {
		if check.ID == verify.SourceVideos {
			videoCheck = check
		}
	}
	require.False(t, videoCheck.Passed)
	require.Equal(t, 0, videoCheck.StatusCode)
	require.Equal(t, 0, videoCheck.ItemCount)

	require.Len(t, snapshot.Anomalies, 1)
	require.Equal(t, verify.AnomalyRequestFailed, snapshot.Anomalies[0].Code)
	require.Equal(t, verify.SeverityCritical, snapshot.Anomalies[0].Severity)
	require.Equal(t, verify.SourceVideos, snapshot.Anomalies[0].CheckID)
}

func TestCheckerStacksAnomaliesOnOneCheck(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/trends", func(w http.ResponseWriter, _ *http.Request) {
		// success=false and too few items: two anomalies on one check.
		writePayload(w, map[string]any{"success": false, "trends": []any{1, 2}})
	})
	mux.HandleFunc("/api/videos", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/api/forum", func(w http.ResponseWriter, _ *http.Request) {
		writePayload(w, map[string]any{"success": true, "posts": []any{1, 2, 3, 4, 5}})
	})

	checker, req := newTestChecker(t, mux, 5*time.Second)
	snapshot := checker.Run(context.Background(), req)

	byCheck := map[verify.SourceID][]verify.AnomalyCode{}
	for _, anomaly := range snapshot.Anomalies {
		byCheck[anomaly.CheckID] = append(byCheck[anomaly.CheckID], anomaly.Code)
	}
	require.ElementsMatch(t,
		[]verify.AnomalyCode{verify.AnomalyPayloadNotSuccess, verify.AnomalyLowItemCount},
		byCheck[verify.SourceTrends],
	)
	// A 502 with an empty body also fails the success and count checks.
	require.Contains(t, byCheck[verify.SourceVideos], verify.AnomalyHTTPStatus)
	require.Equal(t, 1, snapshot.PassCount)
}

func TestInternalURLHonorsForwardingHeaders(t *testing.T) {
	t.Parallel()

	checker := NewChecker(nil, Config{BasePath: "dashboard/"}, nil, &fakeIDGen{}, &fakeClock{}, nil)

	req := httptest.NewRequest(http.MethodGet, "http://internal:8080/v1/crawler-health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "dashboard.example.com")

	got := checker.internalURL(req, "api/trends")
	require.Equal(t, "https://dashboard.example.com/dashboard/api/trends", got)
}

func TestNormalizeBasePath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":            "",
		"/":           "",
		"  ":          "",
		"dashboard":   "/dashboard",
		"/dashboard":  "/dashboard",
		"/dashboard/": "/dashboard",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeBasePath(in), "input %q", in)
	}
}
