package health

import "github.com/funniceguy/trendsentry/internal/verify"

// SourceConfig describes one monitored crawler endpoint.
type SourceConfig struct {
	ID           verify.SourceID
	Label        string
	Endpoint     string
	MinItemCount int
	Count        func(payload map[string]any) int
}

// Thresholds carries the minimum acceptable item counts per source.
type Thresholds struct {
	Trends int
	Videos int
	Forum  int
}

// DefaultSources returns the monitored feed endpoints. Item counting is
// source-specific: trends and forum count a flat collection, videos sum
// entries across sub-categories.
func DefaultSources(th Thresholds) []SourceConfig {
	return []SourceConfig{
		{
			ID:           verify.SourceTrends,
			Label:        "Trends crawler",
			Endpoint:     "/api/trends",
			MinItemCount: th.Trends,
			Count:        func(payload map[string]any) int { return countArray(payload, "trends") },
		},
		{
			ID:           verify.SourceVideos,
			Label:        "Video crawler",
			Endpoint:     "/api/videos",
			MinItemCount: th.Videos,
			Count:        countVideos,
		},
		{
			ID:           verify.SourceForum,
			Label:        "Forum crawler",
			Endpoint:     "/api/forum",
			MinItemCount: th.Forum,
			Count:        func(payload map[string]any) int { return countArray(payload, "posts") },
		},
	}
}

func countArray(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	items, ok := payload[key].([]any)
	if !ok {
		return 0
	}
	return len(items)
}

func countVideos(payload map[string]any) int {
	if payload == nil {
		return 0
	}
	categories, ok := payload["categories"].([]any)
	if !ok {
		return 0
	}
	total := 0
	for _, category := range categories {
		record, ok := category.(map[string]any)
		if !ok {
			continue
		}
		if videos, ok := record["videos"].([]any); ok {
			total += len(videos)
		}
	}
	return total
}

func isSuccessPayload(payload map[string]any) bool {
	if payload == nil {
		return false
	}
	success, ok := payload["success"].(bool)
	return ok && success
}
