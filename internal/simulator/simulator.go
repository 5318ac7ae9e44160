package simulator

import (
	"github.com/shopspring/decimal"
)

const (
	// DefaultPassingGrade is the threshold on the 0-20 scale.
	DefaultPassingGrade = 10.5
	// DefaultCeiling is the highest grade the remaining evaluations are
	// assumed to allow, independent of each record's MaxGrade.
	DefaultCeiling = 20.0
)

// Evaluation is one component of a course grade. A nil Grade means the
// evaluation has not been taken yet.
type Evaluation struct {
	Weight   float64  `json:"weight"`
	Grade    *float64 `json:"grade"`
	MaxGrade float64  `json:"maxGrade"`
}

// Outcome names the branch that produced a Result.
type Outcome string

const (
	OutcomeApproved    Outcome = "approved"    // average already meets the passing grade
	OutcomeReachable   Outcome = "reachable"   // GradeNeeded is set
	OutcomeUnreachable Outcome = "unreachable" // needed grade is above the ceiling
	OutcomeFailed      Outcome = "failed"      // no weight left and not passing
)

// Result is the outcome of a simulation. Numeric fields are rounded to two
// decimals; GradeNeeded is nil when no numeric answer exists.
type Result struct {
	CurrentAverage  float64  `json:"currentAverage"`
	GradeNeeded     *float64 `json:"gradeNeeded"`
	IsApproved      bool     `json:"isApproved"`
	RemainingWeight float64  `json:"remainingWeight"`
	Outcome         Outcome  `json:"outcome"`
}

type Option func(*config)

type config struct {
	ceiling float64
}

// WithCeiling overrides the grade ceiling used for the impossibility check.
func WithCeiling(c float64) Option { return func(cfg *config) { cfg.ceiling = c } }

// Simulator computes weighted averages against a fixed passing grade.
// It holds no mutable state and is safe for concurrent use.
type Simulator struct {
	passing decimal.Decimal
	ceiling decimal.Decimal
}

func New(passingGrade float64, opts ...Option) *Simulator {
	cfg := &config{ceiling: DefaultCeiling}
	for _, o := range opts {
		o(cfg)
	}
	return &Simulator{
		passing: decimal.NewFromFloat(passingGrade),
		ceiling: decimal.NewFromFloat(cfg.ceiling),
	}
}

func (s *Simulator) PassingGrade() float64 { return s.passing.InexactFloat64() }

func (s *Simulator) Ceiling() float64 { return s.ceiling.InexactFloat64() }

// Simulate returns the current weighted average and the grade needed on the
// ungraded weight to reach the passing grade.
//
// Ungraded evaluations add zero to the average and do not count as achieved
// weight. The weighted sum is not divided by the total weight: callers are
// expected to submit weights that add up to 1.
func (s *Simulator) Simulate(evals []Evaluation) Result {
	sum := decimal.Zero
	achieved := decimal.Zero
	for _, e := range evals {
		if e.Grade == nil {
			continue
		}
		w := decimal.NewFromFloat(e.Weight)
		sum = sum.Add(decimal.NewFromFloat(*e.Grade).Mul(w))
		achieved = achieved.Add(w)
	}
	remaining := decimal.NewFromInt(1).Sub(achieved)

	res := Result{
		CurrentAverage:  round2(sum),
		RemainingWeight: round2(remaining),
	}
	switch {
	case sum.GreaterThanOrEqual(s.passing):
		res.IsApproved = true
		res.Outcome = OutcomeApproved
	case remaining.IsPositive():
		needed := s.passing.Sub(sum).Div(remaining)
		if needed.GreaterThan(s.ceiling) {
			res.Outcome = OutcomeUnreachable
			break
		}
		v := round2(needed)
		res.GradeNeeded = &v
		res.Outcome = OutcomeReachable
	default:
		res.Outcome = OutcomeFailed
	}
	return res
}

// Simulate runs a default-ceiling simulation against passingGrade.
func Simulate(evals []Evaluation, passingGrade float64) Result {
	return New(passingGrade).Simulate(evals)
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
