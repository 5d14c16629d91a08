package ride

import (
	"errors"

	"github.com/example/city-rides/internal/models"
)

// AllowedTransitions is the ride state machine. A transition absent
// from this table is never attempted against the store.
var AllowedTransitions = map[models.RideStatus][]models.RideStatus{
	models.StatusPending:        {models.StatusDriverAssigned, models.StatusCancelled},
	models.StatusDriverAssigned: {models.StatusDriverArrived, models.StatusInProgress, models.StatusCancelled},
	models.StatusDriverArrived:  {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress:     {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted:      nil,
	models.StatusCancelled:      nil,
}

// From returns every status that may move to the given target. Used
// to build the CAS predicate for a transition write.
func From(to models.RideStatus) []models.RideStatus {
	var out []models.RideStatus
	for from, tos := range AllowedTransitions {
		for _, t := range tos {
			if t == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to models.RideStatus) bool {
	for _, t := range AllowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

var (
	ErrInvalidInput = errors.New("invalid ride request")
	ErrNotAllowed   = errors.New("participant not allowed on this ride")
)
