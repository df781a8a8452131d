package orchestrator

import (
	"fmt"
	"strings"

	"github.com/funniceguy/trendsentry/internal/verify"
)

// buildPrompt renders the instruction the remote agent receives when a
// verification session is created. The crawl context pins the agent to
// the observed probe results instead of letting it re-derive them.
func buildPrompt(query, category string, checks []verify.HealthCheck, anomalies []verify.Anomaly) string {
	crawlLines := make([]string, 0, len(checks))
	for _, check := range checks {
		result := "FAIL"
		if check.Passed {
			result = "PASS"
		}
		crawlLines = append(crawlLines, fmt.Sprintf("- %s: %s (HTTP %d, count=%d)",
			check.Label, result, check.StatusCode, check.ItemCount))
	}

	anomalyLines := []string{"- No anomalies detected. Analyze residual risks and blind spots."}
	if len(anomalies) > 0 {
		anomalyLines = anomalyLines[:0]
		for _, anomaly := range anomalies {
			anomalyLines = append(anomalyLines, fmt.Sprintf("- [%s] %s/%s: %s | action: %s",
				strings.ToUpper(string(anomaly.Severity)), anomaly.CheckID, anomaly.Code,
				anomaly.Message, anomaly.Recommendation))
		}
	}

	sections := []string{
		fmt.Sprintf("Perform a deep verification analysis for %q.", query),
		"Category: " + category,
		"",
		"System crawler health checks:",
		strings.Join(crawlLines, "\n"),
		"",
		"Detected anomalies:",
		strings.Join(anomalyLines, "\n"),
		"",
		"Required output:",
		"1) Explain health of each crawler endpoint.",
		"2) Highlight reliability risks and mitigations.",
		"3) Provide operator checklist for production monitoring.",
		"4) Keep the output concise and actionable.",
	}
	return strings.Join(sections, "\n")
}
