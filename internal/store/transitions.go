package store

import "ddrc/queue-service/internal/models"

var transitionMap = map[string][]models.TokenStatus{
	"enqueue":  {models.TokenCreated},
	"transfer": {models.TokenQueued},
	"reorder":  {models.TokenQueued},
	"call":     {models.TokenQueued},
	"complete": {models.TokenQueued},
	"tag":      {models.TokenCreated, models.TokenQueued, models.TokenDone},
}

func ValidTransition(action string, from models.TokenStatus) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}
