package auth

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/mind-engage/gradecalc/internal/httpx"
	"github.com/mind-engage/gradecalc/internal/rbac"
	"github.com/mind-engage/gradecalc/internal/simulation"
)

// UserByExternalID is the lookup AttachRoleFromStore needs.
type UserByExternalID interface {
	GetUserByExternalID(ctx context.Context, externalID string) (simulation.User, error)
}

// AttachRoleFromStore replaces the role claim with the stored role when the
// subject has a user row. Subjects without a row keep their claim role so
// the handler can answer with a user-not-found error of its own.
func AttachRoleFromStore(users UserByExternalID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			u, err := users.GetUserByExternalID(ctx, SubjectFromContext(ctx))
			switch {
			case err == nil && u.Role != "":
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, u.Role)))
			case err == nil || errors.Is(err, simulation.ErrNotFound):
				next.ServeHTTP(w, r)
			default:
				log.Printf("attach role: %v", err)
				httpx.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		})
	}
}
