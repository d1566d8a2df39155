package store

import "civicq/records-service/internal/models"

const (
	ActionCall     = "call"
	ActionComplete = "complete"
	ActionSkip     = "skip"
)

var transitionMap = map[string][]string{
	ActionCall:     {models.StatusWaiting},
	ActionComplete: {models.StatusServing},
	ActionSkip:     {models.StatusWaiting, models.StatusServing},
}

var actionTargets = map[string]string{
	ActionCall:     models.StatusServing,
	ActionComplete: models.StatusDone,
	ActionSkip:     models.StatusSkipped,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus returns the status a ticket lands in after action.
func TargetStatus(action string) (string, bool) {
	status, ok := actionTargets[action]
	return status, ok
}
