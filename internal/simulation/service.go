package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/gradecalc/internal/simulator"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUserNotFound   = errors.New("user not found")
	ErrForbidden      = errors.New("forbidden")
)

// Service runs simulations for authenticated callers and persists them.
type Service struct {
	store             Store
	sim               *simulator.Simulator
	requireFullWeight bool

	now   func() time.Time
	newID func() string
}

func NewService(store Store, sim *simulator.Simulator, requireFullWeight bool) *Service {
	return &Service{
		store:             store,
		sim:               sim,
		requireFullWeight: requireFullWeight,
		now:               time.Now,
		newID:             uuid.NewString,
	}
}

func (s *Service) Store() Store { return s.store }

func (s *Service) PassingGrade() float64 { return s.sim.PassingGrade() }

// Simulate validates and computes without touching the store.
func (s *Service) Simulate(evals []Evaluation) (simulator.Result, error) {
	recs := Records(evals)
	if err := simulator.Validate(recs, s.requireFullWeight); err != nil {
		return simulator.Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return s.sim.Simulate(recs), nil
}

// Calculate computes the result for req, resolves the caller to an internal
// user and stores the simulation. Nothing is stored when any step fails.
func (s *Service) Calculate(ctx context.Context, externalID string, req CalculateRequest) (Calculation, error) {
	if req.CourseID == "" {
		return Calculation{}, fmt.Errorf("%w: courseId is required", ErrInvalidRequest)
	}
	res, err := s.Simulate(req.Evaluations)
	if err != nil {
		return Calculation{}, err
	}

	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		return Calculation{}, ErrUserNotFound
	}
	if err != nil {
		return Calculation{}, fmt.Errorf("lookup user: %w", err)
	}

	sim, err := s.store.CreateSimulation(ctx, Simulation{
		ID:             s.newID(),
		CourseID:       req.CourseID,
		UserID:         user.ID,
		CurrentAverage: res.CurrentAverage,
		GradeNeeded:    res.GradeNeeded,
		PassingGrade:   s.sim.PassingGrade(),
		IsApproved:     res.IsApproved,
		Evaluations:    req.Evaluations,
		CreatedAt:      s.now().UnixMilli(),
	})
	if err != nil {
		return Calculation{}, fmt.Errorf("save simulation: %w", err)
	}
	return Calculation{Simulation: sim, Result: res}, nil
}

// Get returns simulation id if the caller owns it or viewAll is set.
func (s *Service) Get(ctx context.Context, externalID, id string, viewAll bool) (Simulation, error) {
	sim, err := s.store.GetSimulation(ctx, id)
	if err != nil {
		return Simulation{}, err
	}
	if viewAll {
		return sim, nil
	}
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		return Simulation{}, ErrUserNotFound
	}
	if err != nil {
		return Simulation{}, fmt.Errorf("lookup user: %w", err)
	}
	if sim.UserID != user.ID {
		return Simulation{}, ErrForbidden
	}
	return sim, nil
}

// List returns the caller's simulations, newest first.
func (s *Service) List(ctx context.Context, externalID, courseID string, limit, offset int) ([]Simulation, error) {
	user, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return s.store.ListSimulations(ctx, ListOpts{UserID: user.ID, CourseID: courseID, Limit: limit, Offset: offset})
}
