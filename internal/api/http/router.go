package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	oauth "github.com/mind-engage/gradecalc/internal/auth"
	auth "github.com/mind-engage/gradecalc/internal/auth/middleware"
	"github.com/mind-engage/gradecalc/internal/config"
	"github.com/mind-engage/gradecalc/internal/httpx"
	"github.com/mind-engage/gradecalc/internal/rbac"
	"github.com/mind-engage/gradecalc/internal/simulation"
)

type Deps struct {
	Config  config.Config
	Service *simulation.Service
	Auth    *auth.AuthService
	Google  *oauth.GoogleProvider // nil unless Google sign-in is enabled
}

func NewRouter(d Deps) http.Handler {
	store := d.Service.Store()

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	if d.Config.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(d.Auth, store))
	}
	if d.Google != nil {
		r.Get("/auth/google/login", d.Google.LoginHandler())
		r.Get("/auth/google/callback", d.Google.CallbackHandler())
	}

	// Protected API (JWT → stored role → RBAC). A group keeps method
	// matching ahead of auth, so a wrong method is a 405 even without a token.
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))
		pr.Use(auth.AttachRoleFromStore(store))

		pr.With(rbac.Require(rbac.PermSimulationCreate)).
			Post("/api/calculate", CalculateHandler(d.Service))
		pr.With(rbac.Require(rbac.PermSimulationViewOwn)).
			Get("/api/simulations", ListSimulationsHandler(d.Service))
		pr.With(rbac.RequireAny(rbac.PermSimulationViewOwn, rbac.PermSimulationViewAll)).
			Get("/api/simulations/{id}", GetSimulationHandler(d.Service))

		pr.With(rbac.Require(rbac.PermUsersBulkUpsert)).
			Post("/api/users/bulk", BulkUpsertUsersHandler(store))
		pr.With(rbac.Require(rbac.PermUsersList)).
			Get("/api/users", ListUsersHandler(store))
		pr.With(rbac.Require(rbac.PermChangePassword)).
			Post("/api/users/change-password", ChangePasswordHandler(store))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.Printf("readyz: %v", err)
			httpx.WriteError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	return r
}
