package alerting

import (
	"errors"
	"fmt"

	"github.com/mylaniakea/unity/internal/model"
)

var (
	// ErrAlertNotFound is returned when no alert has the given id
	ErrAlertNotFound = errors.New("alert not found")
	// ErrTransitionConflict is returned when an operation is not allowed in the alert's status
	ErrTransitionConflict = errors.New("transition not allowed")
	// ErrInvalidSnooze is returned when the snooze end is not after now
	ErrInvalidSnooze = errors.New("snooze must end in the future")
)

func conflict(alert *model.Alert, action model.AlertAction) error {
	return fmt.Errorf("cannot %s alert %s in status %s: %w",
		verb(action), alert.ID, alert.Status, ErrTransitionConflict)
}

func verb(action model.AlertAction) string {
	switch action {
	case model.AlertActionAcknowledged:
		return "acknowledge"
	case model.AlertActionResolved:
		return "resolve"
	case model.AlertActionSnoozed:
		return "snooze"
	}
	return string(action)
}
