package store

import "clinicq/internal/models"

var transitionMap = map[string][]string{
	"call":     {models.StatusWaiting},
	"finalize": {models.StatusCalled},
	"cancel":   {models.StatusWaiting, models.StatusCalled},
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
