// Package tts fetches synthesized speech from a translate-TTS style
// endpoint for the audio digest of a verification report.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config controls the outbound TTS request.
type Config struct {
	// Endpoint is the provider URL, e.g. a translate_tts endpoint.
	Endpoint string
	// Language is the synthesis language code (default "ko").
	Language string
	// UserAgent is sent with every request; some providers refuse
	// requests without a browser-like agent.
	UserAgent string
	// Timeout bounds the whole synthesis call.
	Timeout time.Duration
}

const (
	defaultLanguage  = "ko"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultTimeout   = 15 * time.Second

	maxErrorBody = 4 << 10
)

// Client performs single-attempt synthesis calls.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// NewClient validates the config and constructs a Client.
func NewClient(httpClient *http.Client, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("tts.endpoint is required")
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, cfg: cfg}, nil
}

// Synthesize fetches MPEG audio for the text. The returned bytes are
// the raw provider payload; a non-2xx provider response is an error
// carrying the status and body text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("client", "tw-ob")
	query.Set("tl", c.cfg.Language)
	query.Set("q", text)
	endpoint := c.cfg.Endpoint + "?" + query.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "audio/mpeg,*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("tts provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	return audio, nil
}
