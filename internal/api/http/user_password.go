package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	authmw "github.com/mind-engage/gradecalc/internal/auth/middleware"
	"github.com/mind-engage/gradecalc/internal/httpx"
	"github.com/mind-engage/gradecalc/internal/simulation"
)

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// POST /api/users/change-password
// Local accounts only; provider-only accounts have no hash to check against.
func ChangePasswordHandler(store simulation.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "bad request")
			return
		}
		if req.NewPassword == "" {
			httpx.WriteError(w, http.StatusBadRequest, "new password required")
			return
		}

		u, err := store.GetUserByExternalID(r.Context(), authmw.SubjectFromContext(r.Context()))
		if errors.Is(err, simulation.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, msgUserNotFound)
			return
		}
		if err != nil {
			log.Printf("change password [%s]: %v", middleware.GetReqID(r.Context()), err)
			httpx.WriteError(w, http.StatusInternalServerError, msgInternal)
			return
		}

		if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.OldPassword)) != nil {
			httpx.WriteError(w, http.StatusForbidden, "incorrect old password")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcryptCost)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		u.PasswordHash = string(hash)
		if _, _, err := store.UpsertUser(r.Context(), u); err != nil {
			log.Printf("change password [%s]: %v", middleware.GetReqID(r.Context()), err)
			httpx.WriteError(w, http.StatusInternalServerError, msgInternal)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
