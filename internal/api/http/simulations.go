package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	auth "github.com/mind-engage/gradecalc/internal/auth/middleware"
	"github.com/mind-engage/gradecalc/internal/httpx"
	"github.com/mind-engage/gradecalc/internal/rbac"
	"github.com/mind-engage/gradecalc/internal/simulation"
	"github.com/mind-engage/gradecalc/internal/simulator"
)

const (
	msgMissingData   = "Missing courseId or evaluations data."
	msgUserNotFound  = "User not found in database."
	msgSimNotFound   = "Simulation not found."
	msgCalculateDone = "Calculation successful and saved."
	msgInternal      = "Internal Server Error"

	maxBodyBytes = 1 << 20
)

type calculateResponse struct {
	Message         string            `json:"message"`
	SimulationID    string            `json:"simulationId"`
	CurrentAverage  float64           `json:"currentAverage"`
	GradeNeeded     *float64          `json:"gradeNeeded"`
	IsApproved      bool              `json:"isApproved"`
	RemainingWeight float64           `json:"remainingWeight"`
	Outcome         simulator.Outcome `json:"outcome"`
}

// hasCalculateShape reports whether doc carries a non-empty courseId and an
// evaluations list. Anything else gets the generic missing-data answer.
func hasCalculateShape(doc any) bool {
	m, ok := doc.(map[string]any)
	if !ok {
		return false
	}
	course, ok := m["courseId"].(string)
	if !ok || course == "" {
		return false
	}
	_, ok = m["evaluations"].([]any)
	return ok
}

// POST /api/calculate
func CalculateHandler(svc *simulation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, msgMissingData)
			return
		}
		doc, err := decodeInstance(body)
		if err != nil || !hasCalculateShape(doc) {
			httpx.WriteError(w, http.StatusBadRequest, msgMissingData)
			return
		}
		if err := calculateSchema.Validate(doc); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid evaluations: "+err.Error())
			return
		}
		var req simulation.CalculateRequest
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, msgMissingData)
			return
		}

		calc, err := svc.Calculate(r.Context(), auth.SubjectFromContext(r.Context()), req)
		switch {
		case errors.Is(err, simulation.ErrInvalidRequest):
			msg := strings.TrimPrefix(err.Error(), simulation.ErrInvalidRequest.Error()+": ")
			httpx.WriteError(w, http.StatusBadRequest, msg)
			return
		case errors.Is(err, simulation.ErrUserNotFound):
			httpx.WriteError(w, http.StatusNotFound, msgUserNotFound)
			return
		case err != nil:
			log.Printf("calculate [%s]: %v", middleware.GetReqID(r.Context()), err)
			httpx.WriteError(w, http.StatusInternalServerError, msgInternal)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, calculateResponse{
			Message:         msgCalculateDone,
			SimulationID:    calc.Simulation.ID,
			CurrentAverage:  calc.Result.CurrentAverage,
			GradeNeeded:     calc.Result.GradeNeeded,
			IsApproved:      calc.Result.IsApproved,
			RemainingWeight: calc.Result.RemainingWeight,
			Outcome:         calc.Result.Outcome,
		})
	}
}

// GET /api/simulations?course_id=...&limit=50&offset=0
// Always scoped to the caller.
func ListSimulationsHandler(svc *simulation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		list, err := svc.List(r.Context(), auth.SubjectFromContext(r.Context()),
			strings.TrimSpace(q.Get("course_id")),
			parseIntDefault(q.Get("limit"), 50),
			parseIntDefault(q.Get("offset"), 0))
		switch {
		case errors.Is(err, simulation.ErrUserNotFound):
			httpx.WriteError(w, http.StatusNotFound, msgUserNotFound)
			return
		case err != nil:
			log.Printf("list simulations [%s]: %v", middleware.GetReqID(r.Context()), err)
			httpx.WriteError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		if list == nil {
			list = []simulation.Simulation{}
		}
		httpx.WriteJSON(w, http.StatusOK, list)
	}
}

// GET /api/simulations/{id}
// Owners see their own; simulation:view-all sees any.
func GetSimulationHandler(svc *simulation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sim, err := svc.Get(ctx, auth.SubjectFromContext(ctx), chi.URLParam(r, "id"),
			rbac.Allowed(ctx, rbac.PermSimulationViewAll))
		switch {
		case errors.Is(err, simulation.ErrNotFound):
			httpx.WriteError(w, http.StatusNotFound, msgSimNotFound)
			return
		case errors.Is(err, simulation.ErrUserNotFound):
			httpx.WriteError(w, http.StatusNotFound, msgUserNotFound)
			return
		case errors.Is(err, simulation.ErrForbidden):
			httpx.WriteError(w, http.StatusForbidden, "Forbidden")
			return
		case err != nil:
			log.Printf("get simulation [%s]: %v", middleware.GetReqID(ctx), err)
			httpx.WriteError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, sim)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
