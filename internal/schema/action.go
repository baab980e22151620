package schema

import (
	"fmt"
	"strings"
)

// Action enumerates the strategy lifecycle commands a consumer can issue.
type Action string

const (
	// ActionStart activates an inactive or stopped subscription.
	ActionStart Action = "start"
	// ActionStop terminally halts an active or paused subscription.
	ActionStop Action = "stop"
	// ActionPause temporarily halts an active subscription.
	ActionPause Action = "pause"
	// ActionResume reactivates a paused subscription.
	ActionResume Action = "resume"
)

// ParseAction normalises and validates a wire-format action value.
func ParseAction(raw string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(raw)))
	if err := action.Validate(); err != nil {
		return "", err
	}
	return action, nil
}

// Validate reports whether the action is one of the four lifecycle commands.
func (a Action) Validate() error {
	switch a {
	case ActionStart, ActionStop, ActionPause, ActionResume:
		return nil
	default:
		return fmt.Errorf("unknown action %q", string(a))
	}
}

// AllowedActions returns the actions legal from the given status. The UI only
// offers these; requesting anything else is a caller error.
func AllowedActions(status Status) []Action {
	switch status {
	case StatusInactive, StatusStopped:
		return []Action{ActionStart}
	case StatusActive:
		return []Action{ActionPause, ActionStop}
	case StatusPaused:
		return []Action{ActionResume, ActionStop}
	default:
		return nil
	}
}

// ActionAllowed reports whether the action is a status-legal transition.
func ActionAllowed(action Action, status Status) bool {
	for _, allowed := range AllowedActions(status) {
		if allowed == action {
			return true
		}
	}
	return false
}
