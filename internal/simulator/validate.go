package simulator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNoEvaluations   = errors.New("at least one evaluation is required")
	ErrInvalidWeight   = errors.New("weight must be greater than 0 and at most 1")
	ErrInvalidMaxGrade = errors.New("maxGrade must be greater than 0")
	ErrGradeOutOfRange = errors.New("grade must be between 0 and maxGrade")
	ErrWeightSum       = errors.New("evaluation weights must add up to 100%")
)

// FieldError ties a validation failure to the evaluation at Index.
type FieldError struct {
	Index int
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("evaluation %d: %v", e.Index, e.Err) }

func (e *FieldError) Unwrap() error { return e.Err }

// Validate checks the preconditions Simulate relies on. When
// requireFullWeight is set, the weights rounded to two decimals must add up
// to exactly 1.
func Validate(evals []Evaluation, requireFullWeight bool) error {
	if len(evals) == 0 {
		return ErrNoEvaluations
	}
	for i, e := range evals {
		if !(e.Weight > 0 && e.Weight <= 1) {
			return &FieldError{Index: i, Err: ErrInvalidWeight}
		}
		if !(e.MaxGrade > 0) {
			return &FieldError{Index: i, Err: ErrInvalidMaxGrade}
		}
		if e.Grade != nil && !(*e.Grade >= 0 && *e.Grade <= e.MaxGrade) {
			return &FieldError{Index: i, Err: ErrGradeOutOfRange}
		}
	}
	if requireFullWeight && !totalWeight(evals).Round(2).Equal(decimal.NewFromInt(1)) {
		return ErrWeightSum
	}
	return nil
}

// TotalWeight is the sum of all weights, graded or not, rounded to two
// decimals.
func TotalWeight(evals []Evaluation) float64 {
	return round2(totalWeight(evals))
}

func totalWeight(evals []Evaluation) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range evals {
		sum = sum.Add(decimal.NewFromFloat(e.Weight))
	}
	return sum
}
