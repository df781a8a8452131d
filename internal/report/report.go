// Package report renders verification cards into operator-facing text:
// a one-line summary, a markdown report, and a speech-ready digest.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/funniceguy/trendsentry/internal/verify"
)

// Rendering limits. Reports show the newest activities only, and the
// audio digest is clipped so synthesis stays short.
const (
	maxReportActivities = 10
	maxAudioChars       = 240
)

// Summary renders the card's one-line operational summary.
func Summary(card verify.Card) string {
	passCount := 0
	for _, check := range card.CrawlChecks {
		if check.Passed {
			passCount++
		}
	}
	anomalyPart := "No anomaly detected."
	if card.AnomalyDetected {
		anomalyPart = fmt.Sprintf("Anomalies detected: %d.", len(card.Anomalies))
	}
	return fmt.Sprintf("%s. %s. %s Session state is %s. Passed checks %d/%d.",
		card.Query, card.CrawlSummary, anomalyPart, card.State.Label(), passCount, len(card.CrawlChecks))
}

// Markdown renders the full report for the card.
func Markdown(card verify.Card) string {
	crawlLines := []string{"- No health checks recorded."}
	if len(card.CrawlChecks) > 0 {
		crawlLines = crawlLines[:0]
		for _, check := range card.CrawlChecks {
			icon := "[FAIL]"
			if check.Passed {
				icon = "[PASS]"
			}
			crawlLines = append(crawlLines, fmt.Sprintf("- %s %s: HTTP %d, itemCount=%d, message=%s",
				icon, check.Label, check.StatusCode, check.ItemCount, check.Message))
		}
	}

	activityLines := []string{"- No activity log yet."}
	if len(card.Activities) > 0 {
		activities := card.Activities
		if len(activities) > maxReportActivities {
			activities = activities[:maxReportActivities]
		}
		activityLines = activityLines[:0]
		for _, activity := range activities {
			activityLines = append(activityLines, fmt.Sprintf("- [%s] %s: %s",
				activity.Timestamp.Format(time.RFC3339), activity.Type, activity.Message))
		}
	}

	anomalyLines := []string{"- No anomaly detected."}
	if len(card.Anomalies) > 0 {
		anomalyLines = anomalyLines[:0]
		for _, anomaly := range card.Anomalies {
			anomalyLines = append(anomalyLines, fmt.Sprintf("- [%s] %s/%s: %s -> %s",
				strings.ToUpper(string(anomaly.Severity)), anomaly.CheckID, anomaly.Code,
				anomaly.Message, anomaly.Recommendation))
		}
	}

	sections := []string{
		"# Verification Report",
		"",
		"- Session ID: " + card.SessionID,
		"- Query: " + card.Query,
		"- Category: " + card.Category,
		"- Session state: " + card.State.Label(),
		fmt.Sprintf("- Progress: %d%%", card.Progress),
		"",
		"## 1) Crawler health checks",
		strings.Join(crawlLines, "\n"),
		"",
		"## 2) Agent progress logs",
		strings.Join(activityLines, "\n"),
		"",
		"## 3) Detected anomalies",
		strings.Join(anomalyLines, "\n"),
		"",
		"## 4) Operational summary",
		"- " + card.CrawlSummary,
		"- Current session state: " + card.State.Label(),
		"- Latest message: " + card.StatusMessage,
	}
	return strings.Join(sections, "\n")
}

// AudioText collapses whitespace and clips the text for speech
// synthesis. Clipped text ends with an ellipsis inside the limit.
func AudioText(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	runes := []rune(normalized)
	if len(runes) <= maxAudioChars {
		return normalized
	}
	return string(runes[:maxAudioChars-3]) + "..."
}

// Refresh recomputes the card's rendered fields in place.
func Refresh(card *verify.Card) {
	card.ReportSummary = Summary(*card)
	card.ReportMarkdown = Markdown(*card)
	card.AudioText = AudioText(card.ReportSummary)
}
