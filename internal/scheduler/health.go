package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/mylaniakea/unity/internal/model"
)

var healthStates = []model.HealthState{
	model.HealthHealthy,
	model.HealthStale,
	model.HealthError,
	model.HealthDisabled,
}

// Status returns the derived health of one collector
func (s *Scheduler) Status(id string) (model.CollectorHealth, error) {
	e, ok := s.entries.Load(id)
	if !ok {
		return model.CollectorHealth{}, fmt.Errorf("%w: %s", ErrCollectorNotFound, id)
	}
	return s.health(e), nil
}

// Statuses returns the health of every collector ordered by id
func (s *Scheduler) Statuses() []model.CollectorHealth {
	statuses := make([]model.CollectorHealth, 0, s.entries.Size())
	s.entries.Range(func(_ string, e *entry) bool {
		statuses = append(statuses, s.health(e))
		return true
	})
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].CollectorID < statuses[j].CollectorID })
	return statuses
}

// Executions returns up to limit of the most recent execution records, newest
// first. A limit of zero or less returns the whole retained history.
func (s *Scheduler) Executions(id string, limit int) ([]model.ExecutionRecord, error) {
	e, ok := s.entries.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectorNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.history)
	if limit > 0 && limit < n {
		n = limit
	}
	records := make([]model.ExecutionRecord, 0, n)
	for i := len(e.history) - 1; i >= 0 && len(records) < n; i-- {
		records = append(records, e.history[i])
	}
	return records, nil
}

func (s *Scheduler) health(e *entry) model.CollectorHealth {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := model.CollectorHealth{
		CollectorID:   e.descriptor.ID,
		LastExecution: copyTime(e.descriptor.LastExecution),
		LastSuccess:   copyTime(e.descriptor.LastSuccess),
	}
	var last *model.ExecutionRecord
	if n := len(e.history); n > 0 {
		record := e.history[n-1]
		last = &record
		h.LastRecord = last
	}
	h.State = deriveHealth(e.descriptor, last, s.now())
	return h
}

// deriveHealth applies, in order: disabled, stale, error, healthy. Staleness
// is measured from the last success, or from registration for a collector
// that never succeeded, so a collector that keeps failing ends up stale
// once the threshold passes.
func deriveHealth(d model.CollectorDescriptor, last *model.ExecutionRecord, now time.Time) model.HealthState {
	if !d.Enabled {
		return model.HealthDisabled
	}

	reference := d.RegisteredAt
	if d.LastSuccess != nil {
		reference = *d.LastSuccess
	}
	staleAfter := d.StaleAfter
	if staleAfter <= 0 {
		staleAfter = model.DefaultStaleAfter
	}
	if now.Sub(reference) > staleAfter {
		return model.HealthStale
	}

	if last != nil && last.Outcome != model.OutcomeSuccess {
		return model.HealthError
	}
	return model.HealthHealthy
}

func (s *Scheduler) reportHealth(e *entry) {
	h := s.health(e)
	for _, state := range healthStates {
		value := 0.0
		if state == h.State {
			value = 1
		}
		s.metrics.CollectorHealth.WithLabelValues(h.CollectorID, string(state)).Set(value)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
