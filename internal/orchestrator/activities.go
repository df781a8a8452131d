package orchestrator

import (
	"sort"

	"github.com/funniceguy/trendsentry/internal/verify"
)

// activityMessage derives the display message for a remote activity,
// falling back to a fixed phrase per activity type when the payload
// carries no message.
func activityMessage(activity verify.SessionActivity) string {
	if activity.Content != nil && activity.Content.Message != "" {
		return activity.Content.Message
	}
	switch verify.ActivityType(activity.Type) {
	case verify.ActivityPlanGenerated:
		return "Execution plan generated."
	case verify.ActivityPlanApproved:
		return "Execution plan approved."
	case verify.ActivityExecutionComplete:
		return "Agent execution completed."
	case verify.ActivityError:
		if activity.Content != nil && activity.Content.Error != nil && activity.Content.Error.Message != "" {
			return activity.Content.Error.Message
		}
		return "Agent execution error."
	case verify.ActivityMessage:
		return "Message updated."
	default:
		return "Activity updated."
	}
}

// toActivities converts remote activities into card entries.
func toActivities(activities []verify.SessionActivity) []verify.Activity {
	out := make([]verify.Activity, 0, len(activities))
	for _, activity := range activities {
		out = append(out, verify.Activity{
			ID:        activity.ID,
			Type:      verify.ActivityType(activity.Type),
			Timestamp: activity.Timestamp,
			Message:   activityMessage(activity),
		})
	}
	return out
}

// sortNewestFirst orders activities newest-first and caps the slice.
func sortNewestFirst(activities []verify.Activity, limit int) []verify.Activity {
	out := append([]verify.Activity(nil), activities...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
