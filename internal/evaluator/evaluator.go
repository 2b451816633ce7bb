package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mylaniakea/unity/internal/model"
	"github.com/mylaniakea/unity/internal/storage"
)

// SampleReader is the part of the metric store the evaluator reads from
type SampleReader interface {
	LatestAt(ctx context.Context, sourceID, metric string, asOf time.Time) (model.MetricSample, error)
}

// Result is the outcome of evaluating one rule against one resource
type Result struct {
	Satisfied   bool
	Observed    float64
	HasData     bool
	SampledAt   time.Time
	EvaluatedAt time.Time
	Err         error
}

// Evaluator compares the latest stored sample of a resource against a rule.
// It holds no state between calls.
type Evaluator struct {
	samples SampleReader
}

// New creates an evaluator reading from the given store
func New(samples SampleReader) *Evaluator {
	return &Evaluator{samples: samples}
}

// Evaluate reads the newest sample at or before asOf and applies the rule's
// comparison. Missing data, a malformed rule and store failures all yield an
// unsatisfied result; the latter two also set Err.
func (e *Evaluator) Evaluate(ctx context.Context, rule model.AlertRule, resourceID string, asOf time.Time) Result {
	result := Result{EvaluatedAt: asOf}

	if err := rule.Validate(); err != nil {
		result.Err = fmt.Errorf("%w: %v", ErrInvalidRule, err)
		return result
	}

	sample, err := e.samples.LatestAt(ctx, resourceID, rule.Metric, asOf)
	if err != nil {
		if errors.Is(err, storage.ErrNoData) {
			return result
		}
		result.Err = fmt.Errorf("failed to read %s/%s: %w", resourceID, rule.Metric, err)
		return result
	}

	result.HasData = true
	result.Observed = sample.Value
	result.SampledAt = sample.Timestamp

	satisfied, err := Compare(rule.Operator, sample.Value, rule.Threshold)
	if err != nil {
		result.Err = err
		return result
	}
	result.Satisfied = satisfied
	return result
}

// Compare applies op to observed and threshold. Equality is exact, so values
// produced by floating point arithmetic may not compare equal to a literal.
func Compare(op model.Operator, observed, threshold float64) (bool, error) {
	switch op {
	case model.OperatorGreaterThan:
		return observed > threshold, nil
	case model.OperatorLessThan:
		return observed < threshold, nil
	case model.OperatorGreaterOrEqual:
		return observed >= threshold, nil
	case model.OperatorLessOrEqual:
		return observed <= threshold, nil
	case model.OperatorEqual:
		return observed == threshold, nil
	case model.OperatorNotEqual:
		return observed != threshold, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, op)
	}
}

// Describe renders the condition the way it appears in alert messages
func Describe(rule model.AlertRule, observed float64) string {
	return fmt.Sprintf("%s = %g (%s %g)", rule.Metric, observed, rule.Operator.Symbol(), rule.Threshold)
}
