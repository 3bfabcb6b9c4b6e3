package runview

import (
	"strings"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
)

// Status is the three-valued status shown by the console.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// IsPending reports whether a run with this status is still being executed.
func (s Status) IsPending() bool {
	return s == StatusPending
}

// ClassifyStatus maps a backend run state to a console status.
// Unrecognised states are pending so that polling continues rather than
// reporting a terminal state the backend never declared.
func ClassifyStatus(backendStatus string) Status {
	switch strings.ToUpper(strings.TrimSpace(backendStatus)) {
	case models.StatusPassed, models.StatusFinished:
		return StatusPassed
	case models.StatusFailed, models.StatusError:
		return StatusFailed
	case models.StatusPending, models.StatusRunning:
		return StatusPending
	default:
		return StatusPending
	}
}

// actionFailed reports whether a history element state counts as a failed action.
func actionFailed(state string) bool {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case models.StatusFailed, models.StatusError:
		return true
	default:
		return false
	}
}
