// Package health probes the service's own crawler endpoints and
// classifies the results into pass/fail checks and anomaly records.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/funniceguy/trendsentry/internal/metrics"
	"github.com/funniceguy/trendsentry/internal/verify"
)

// Config controls Checker behavior.
type Config struct {
	// Timeout bounds each probe independently.
	Timeout time.Duration
	// BasePath is the path prefix the service is mounted under when
	// running behind a reverse proxy.
	BasePath string
}

// Checker runs lightweight self-probes against the monitored sources.
type Checker struct {
	client  *http.Client
	cfg     Config
	sources []SourceConfig
	idGen   verify.IDGenerator
	clock   verify.Clock
	logger  *zap.Logger
}

// NewChecker constructs a Checker over the given sources.
func NewChecker(
	client *http.Client,
	cfg Config,
	sources []SourceConfig,
	idGen verify.IDGenerator,
	clock verify.Clock,
	logger *zap.Logger,
) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		client:  client,
		cfg:     cfg,
		sources: sources,
		idGen:   idGen,
		clock:   clock,
		logger:  logger,
	}
}

type probeResult struct {
	check     verify.HealthCheck
	anomalies []verify.Anomaly
}

// Run probes every configured source concurrently and aggregates the
// results into a snapshot. A failing or slow source never aborts or
// delays the other probes; each runs with its own timeout.
func (c *Checker) Run(ctx context.Context, req *http.Request) verify.HealthSnapshot {
	checkedAt := c.clock.Now()
	results := make([]probeResult, len(c.sources))

	var wg sync.WaitGroup
	for i, source := range c.sources {
		wg.Add(1)
		go func(i int, source SourceConfig) {
			defer wg.Done()
			results[i] = c.probe(ctx, req, source, checkedAt)
		}(i, source)
	}
	wg.Wait()

	checks := make([]verify.HealthCheck, 0, len(results))
	anomalies := make([]verify.Anomaly, 0)
	passCount := 0
	for _, result := range results {
		checks = append(checks, result.check)
		anomalies = append(anomalies, result.anomalies...)
		if result.check.Passed {
			passCount++
		}
		metrics.ObserveHealthProbe(string(result.check.ID), result.check.Passed)
	}
	for _, anomaly := range anomalies {
		metrics.ObserveAnomaly(string(anomaly.CheckID), string(anomaly.Code))
	}

	summary := fmt.Sprintf("All crawler checks healthy (%d/%d)", passCount, len(checks))
	if len(anomalies) > 0 {
		summary = fmt.Sprintf("Detected %d anomalies (%d/%d healthy)", len(anomalies), passCount, len(checks))
	}

	return verify.HealthSnapshot{
		CheckedAt:       checkedAt,
		Checks:          checks,
		Anomalies:       anomalies,
		AnomalyDetected: len(anomalies) > 0,
		Summary:         summary,
		PassCount:       passCount,
		TotalCount:      len(checks),
	}
}

func (c *Checker) probe(
	ctx context.Context,
	req *http.Request,
	source SourceConfig,
	checkedAt time.Time,
) probeResult {
	endpointURL := c.internalURL(req, source.Endpoint)

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	probeReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpointURL, nil)
	if err == nil {
		probeReq.Header.Set("Cache-Control", "no-store")
	}
	var resp *http.Response
	if err == nil {
		resp, err = c.client.Do(probeReq)
	}
	if err != nil {
		c.logger.Warn("health probe request failed",
			zap.String("source", string(source.ID)),
			zap.String("url", endpointURL),
			zap.Error(err),
		)
		anomaly := c.newAnomaly(source.ID, verify.SeverityCritical, verify.AnomalyRequestFailed,
			fmt.Sprintf("%s request failed: %v", source.Label, err),
			"Validate DNS, outbound network, and remote source availability.",
		)
		return probeResult{
			check: verify.HealthCheck{
				ID:        source.ID,
				Label:     source.Label,
				Endpoint:  source.Endpoint,
				CheckedAt: checkedAt,
				Message:   fmt.Sprintf("%s request failed (%v)", source.Label, err),
			},
			anomalies: []verify.Anomaly{anomaly},
		}
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	var payload map[string]any
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if readErr == nil {
		// A non-JSON body is treated the same as an empty payload.
		_ = json.Unmarshal(body, &payload)
	}

	itemCount := source.Count(payload)
	success := isSuccessPayload(payload)
	httpOK := resp.StatusCode >= 200 && resp.StatusCode < 300
	passed := httpOK && success && itemCount >= source.MinItemCount

	var anomalies []verify.Anomaly
	if !httpOK {
		anomalies = append(anomalies, c.newAnomaly(source.ID, verify.SeverityCritical, verify.AnomalyHTTPStatus,
			fmt.Sprintf("%s returned HTTP %d", source.Label, resp.StatusCode),
			fmt.Sprintf("Check upstream source and network policy for %s", source.Endpoint),
		))
	}
	if !success {
		anomalies = append(anomalies, c.newAnomaly(source.ID, verify.SeverityWarning, verify.AnomalyPayloadNotSuccess,
			fmt.Sprintf("%s returned success=false payload", source.Label),
			"Review parser changes or fallback logic.",
		))
	}
	if itemCount < source.MinItemCount {
		anomalies = append(anomalies, c.newAnomaly(source.ID, verify.SeverityWarning, verify.AnomalyLowItemCount,
			fmt.Sprintf("%s item count is low (%d/%d)", source.Label, itemCount, source.MinItemCount),
			"Inspect selector changes and source structure drift.",
		))
	}

	message := fmt.Sprintf("%s is healthy", source.Label)
	if !passed {
		message = fmt.Sprintf("%s failed (success=%t, count=%d)", source.Label, success, itemCount)
	}

	return probeResult{
		check: verify.HealthCheck{
			ID:         source.ID,
			Label:      source.Label,
			Endpoint:   source.Endpoint,
			StatusCode: resp.StatusCode,
			ItemCount:  itemCount,
			Passed:     passed,
			CheckedAt:  checkedAt,
			Message:    message,
		},
		anomalies: anomalies,
	}
}

// internalURL builds an absolute URL for a self-probe from the inbound
// request, honoring reverse-proxy forwarding headers and a configured
// path prefix.
func (c *Checker) internalURL(req *http.Request, endpoint string) string {
	scheme := "http"
	host := ""
	if req != nil {
		if req.TLS != nil {
			scheme = "https"
		}
		host = req.Host
		if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
			if fwdHost := req.Header.Get("X-Forwarded-Host"); fwdHost != "" {
				scheme = proto
				host = fwdHost
			}
		}
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return fmt.Sprintf("%s://%s%s%s", scheme, host, normalizeBasePath(c.cfg.BasePath), endpoint)
}

func normalizeBasePath(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed == "/" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimSuffix(trimmed, "/")
}

func (c *Checker) newAnomaly(
	checkID verify.SourceID,
	severity verify.Severity,
	code verify.AnomalyCode,
	message string,
	recommendation string,
) verify.Anomaly {
	id, err := c.idGen.NewID()
	if err != nil {
		id = fmt.Sprintf("%s-%s-%d", checkID, code, c.clock.Now().UnixNano())
	}
	return verify.Anomaly{
		ID:             id,
		CheckID:        checkID,
		Severity:       severity,
		Code:           code,
		Message:        message,
		Recommendation: recommendation,
	}
}
