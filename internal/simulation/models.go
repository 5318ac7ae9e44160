package simulation

import (
	"github.com/mind-engage/gradecalc/internal/simulator"
)

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

func ValidRole(r string) bool { return r == RoleStudent || r == RoleAdmin }

type User struct {
	ID           string `json:"id"`
	ExternalID   string `json:"external_id"` // identity-provider subject
	Username     string `json:"username"`
	Role         string `json:"role"`
	PasswordHash string `json:"-"` // bcrypt, empty for provider-only accounts
	CreatedAt    int64  `json:"created_at"`
}

// LocalExternalID is the subject used for accounts that log in with a
// password stored here.
func LocalExternalID(username string) string { return "local|" + username }

// Evaluation is a submitted record: the simulator input plus a display name.
type Evaluation struct {
	Name     string   `json:"name"`
	Weight   float64  `json:"weight"`
	Grade    *float64 `json:"grade"`
	MaxGrade float64  `json:"maxGrade"`
}

func (e Evaluation) Record() simulator.Evaluation {
	return simulator.Evaluation{Weight: e.Weight, Grade: e.Grade, MaxGrade: e.MaxGrade}
}

func Records(evals []Evaluation) []simulator.Evaluation {
	out := make([]simulator.Evaluation, len(evals))
	for i, e := range evals {
		out[i] = e.Record()
	}
	return out
}

// Simulation is the persisted result of one calculation.
type Simulation struct {
	ID             string       `json:"id"`
	CourseID       string       `json:"courseId"`
	UserID         string       `json:"userId"`
	CurrentAverage float64      `json:"currentAverage"`
	GradeNeeded    *float64     `json:"gradeNeeded"`
	PassingGrade   float64      `json:"passingGrade"`
	IsApproved     bool         `json:"isApproved"`
	Evaluations    []Evaluation `json:"evaluations"`
	CreatedAt      int64        `json:"createdAt"` // unix millis
}

type CalculateRequest struct {
	CourseID    string       `json:"courseId"`
	Evaluations []Evaluation `json:"evaluations"`
}

// Calculation is what a successful Calculate returns: the stored row plus
// the full simulator output.
type Calculation struct {
	Simulation Simulation
	Result     simulator.Result
}
