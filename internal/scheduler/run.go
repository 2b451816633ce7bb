package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

// timeoutFraction of the interval bounds a run when the descriptor sets no timeout
const timeoutFraction = 0.8

type collectResult struct {
	metrics map[string]float64
	err     error
}

// RunOnce runs a collector synchronously on the worker pool and returns its
// execution record. Collection failures are reported on the record; the error
// is only set when the run could not take place.
func (s *Scheduler) RunOnce(ctx context.Context, id string) (model.ExecutionRecord, error) {
	e, ok := s.entries.Load(id)
	if !ok {
		return model.ExecutionRecord{}, fmt.Errorf("%w: %s", ErrCollectorNotFound, id)
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return model.ExecutionRecord{}, fmt.Errorf("%w: %s", ErrCollectorBusy, id)
	}

	var record model.ExecutionRecord
	firedAt := s.now()
	task := s.pool.Submit(func() {
		record = s.execute(ctx, id, e, firedAt, true)
	})
	if err := task.Wait(); err != nil {
		if record.ID == "" {
			e.inFlight.Store(false)
			if errors.Is(err, context.Canceled) || s.isStopped() {
				return model.ExecutionRecord{}, ErrSchedulerStopped
			}
			return model.ExecutionRecord{}, fmt.Errorf("failed to run collector %s: %w", id, err)
		}
	}
	return record, nil
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// execute performs one invocation. Samples are stamped with firedAt and
// written only when the collector returns in time without error.
func (s *Scheduler) execute(parent context.Context, id string, e *entry, firedAt time.Time, manual bool) model.ExecutionRecord {
	defer e.inFlight.Store(false)

	e.mu.Lock()
	descriptor := e.descriptor
	e.mu.Unlock()

	record := model.ExecutionRecord{
		ID:          uuid.New().String(),
		CollectorID: id,
		StartedAt:   s.now(),
		Manual:      manual,
	}

	timeout := collectTimeout(descriptor)
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan collectResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- collectResult{err: fmt.Errorf("collector panicked: %v", r)}
			}
		}()
		metrics, err := e.collector.Collect(ctx)
		done <- collectResult{metrics: metrics, err: err}
	}()

	var collErr *CollectionError
	select {
	case res := <-done:
		if res.err != nil {
			collErr = &CollectionError{CollectorID: id, Outcome: model.OutcomeFailure, Err: res.err}
			break
		}
		samples := s.toSamples(id, firedAt, res.metrics)
		if len(samples) > 0 {
			if err := s.samples.WriteBatch(ctx, samples); err != nil {
				collErr = &CollectionError{
					CollectorID: id,
					Outcome:     model.OutcomeFailure,
					Err:         fmt.Errorf("failed to store samples: %w", err),
				}
				break
			}
		}
		record.SampleCount = len(samples)
	case <-ctx.Done():
		// The collector goroutine is abandoned; its late result lands in the
		// buffered channel and is dropped.
		outcome := model.OutcomeTimeout
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = model.OutcomeFailure
		}
		collErr = &CollectionError{CollectorID: id, Outcome: outcome, Err: ctx.Err()}
	}

	record.FinishedAt = s.now()
	record.Outcome = model.OutcomeSuccess
	if collErr != nil {
		record.Outcome = collErr.Outcome
		record.Error = collErr.Err.Error()
		record.SampleCount = 0
		s.logger.Warn("Collector run failed",
			zap.String("collector_id", id),
			zap.String("outcome", string(collErr.Outcome)),
			zap.Duration("timeout", timeout),
			zap.Error(collErr))
	} else {
		s.logger.Debug("Collector run succeeded",
			zap.String("collector_id", id),
			zap.Int("samples", record.SampleCount),
			zap.Duration("duration", record.Duration()))
	}

	s.record(e, record)
	return record
}

func collectTimeout(d model.CollectorDescriptor) time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return time.Duration(float64(d.Interval) * timeoutFraction)
}

// toSamples converts a collector result into samples, dropping values that
// cannot be stored
func (s *Scheduler) toSamples(id string, ts time.Time, metrics map[string]float64) []model.MetricSample {
	samples := make([]model.MetricSample, 0, len(metrics))
	for name, value := range metrics {
		if name == "" || math.IsNaN(value) || math.IsInf(value, 0) {
			s.logger.Warn("Dropping unusable metric value",
				zap.String("collector_id", id),
				zap.String("metric", name),
				zap.Float64("value", value))
			continue
		}
		samples = append(samples, model.MetricSample{
			SourceID:  id,
			Metric:    name,
			Timestamp: ts,
			Value:     value,
		})
	}
	return samples
}

// record appends to the bounded in-memory history, updates the descriptor
// timestamps and persists the record best effort.
func (s *Scheduler) record(e *entry, record model.ExecutionRecord) {
	e.mu.Lock()
	e.history = append(e.history, record)
	if over := len(e.history) - s.cfg.HistorySize; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	finished := record.FinishedAt
	e.descriptor.LastExecution = &finished
	if record.Outcome == model.OutcomeSuccess {
		success := record.FinishedAt
		e.descriptor.LastSuccess = &success
	}
	e.mu.Unlock()

	s.metrics.CollectorExecutions.WithLabelValues(record.CollectorID, string(record.Outcome)).Inc()
	s.metrics.CollectorDuration.WithLabelValues(record.CollectorID).Observe(record.Duration().Seconds())
	if record.SampleCount > 0 {
		s.metrics.SamplesWritten.WithLabelValues(record.CollectorID).Add(float64(record.SampleCount))
	}
	s.reportHealth(e)

	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recorder.Store(ctx, &record); err != nil {
		s.logger.Error("Failed to persist execution record",
			zap.String("collector_id", record.CollectorID),
			zap.Error(err))
	}
}
