// Package agent implements the typed HTTP client for the remote coding
// agent's session API.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/funniceguy/trendsentry/internal/verify"
)

// Config captures the parameters required to reach the remote agent.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

const apiKeyHeader = "X-Goog-Api-Key"

// Client is a single-attempt request wrapper over the session API.
// Retries, if any, belong to the caller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient constructs a Client. A nil httpClient gets a dedicated
// client with the configured timeout.
func NewClient(httpClient *http.Client, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("agent base URL is required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}, nil
}

// sessionResource accepts either a bare id or a full resource name.
func sessionResource(sessionID string) string {
	if strings.HasPrefix(sessionID, "sessions/") {
		return sessionID
	}
	return "sessions/" + sessionID
}

// NormalizeSessionID derives the stable session key from a session
// resource: the bare id when present, otherwise the final path segment
// of the resource name.
func NormalizeSessionID(session verify.Session) string {
	if strings.TrimSpace(session.ID) != "" {
		return session.ID
	}
	name := session.Name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		if segment := name[idx+1:]; segment != "" {
			return segment
		}
	}
	return name
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func pageQuery(opts verify.PageOpts) string {
	values := url.Values{}
	if opts.PageSize > 0 {
		values.Set("pageSize", strconv.Itoa(opts.PageSize))
	}
	if opts.PageToken != "" {
		values.Set("pageToken", opts.PageToken)
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

// CreateSession starts a new remote session. The returned session's ID
// field is always populated with the normalized id.
func (c *Client) CreateSession(ctx context.Context, params verify.CreateSessionParams) (verify.Session, error) {
	var session verify.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", params, &session); err != nil {
		return verify.Session{}, fmt.Errorf("create session: %w", err)
	}
	session.ID = NormalizeSessionID(session)
	return session, nil
}

// GetSession fetches one session by id or resource name.
func (c *Client) GetSession(ctx context.Context, sessionID string) (verify.Session, error) {
	var session verify.Session
	if err := c.do(ctx, http.MethodGet, "/"+sessionResource(sessionID), nil, &session); err != nil {
		return verify.Session{}, fmt.Errorf("get session: %w", err)
	}
	session.ID = NormalizeSessionID(session)
	return session, nil
}

// ListSessions returns one page of sessions.
func (c *Client) ListSessions(ctx context.Context, opts verify.PageOpts) (verify.SessionPage, error) {
	var page verify.SessionPage
	if err := c.do(ctx, http.MethodGet, "/sessions"+pageQuery(opts), nil, &page); err != nil {
		return verify.SessionPage{}, fmt.Errorf("list sessions: %w", err)
	}
	for i := range page.Sessions {
		page.Sessions[i].ID = NormalizeSessionID(page.Sessions[i])
	}
	return page, nil
}

// ApprovePlan approves the session's pending plan.
func (c *Client) ApprovePlan(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPost, "/"+sessionResource(sessionID)+":approvePlan", struct{}{}, nil); err != nil {
		return fmt.Errorf("approve plan: %w", err)
	}
	return nil
}

// SendMessage posts a user message into the session.
func (c *Client) SendMessage(ctx context.Context, sessionID string, message string) error {
	body := map[string]string{"message": message}
	if err := c.do(ctx, http.MethodPost, "/"+sessionResource(sessionID)+":sendMessage", body, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// ListActivities returns one page of session activities.
func (c *Client) ListActivities(ctx context.Context, sessionID string, opts verify.PageOpts) (verify.ActivityPage, error) {
	var page verify.ActivityPage
	path := "/" + sessionResource(sessionID) + "/activities" + pageQuery(opts)
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return verify.ActivityPage{}, fmt.Errorf("list activities: %w", err)
	}
	return page, nil
}

// ListSources returns the repositories connected to the remote agent.
func (c *Client) ListSources(ctx context.Context) ([]string, error) {
	var out struct {
		Sources []string `json:"sources"`
	}
	if err := c.do(ctx, http.MethodGet, "/sources", nil, &out); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out.Sources, nil
}
