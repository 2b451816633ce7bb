package scheduler

import (
	"errors"
	"fmt"

	"github.com/mylaniakea/unity/internal/model"
)

var (
	// ErrDuplicateCollector is returned when a collector id is registered twice
	ErrDuplicateCollector = errors.New("collector already registered")

	// ErrCollectorNotFound is returned when a collector is not registered
	ErrCollectorNotFound = errors.New("collector not found")

	// ErrCollectorBusy is returned when a manual run overlaps a run in flight
	ErrCollectorBusy = errors.New("collector run already in flight")

	// ErrInvalidDescriptor is returned for descriptors that cannot be scheduled
	ErrInvalidDescriptor = errors.New("invalid collector descriptor")

	// ErrSchedulerStopped is returned once the scheduler has been stopped
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// CollectionError describes a failed or timed out collector invocation. It is
// recorded on the execution record and logged, never returned to callers.
type CollectionError struct {
	CollectorID string
	Outcome     model.ExecutionOutcome
	Err         error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collector %s: %s: %v", e.CollectorID, e.Outcome, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}
