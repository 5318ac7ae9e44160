package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	api "github.com/mind-engage/gradecalc/internal/api/http"
	oauth "github.com/mind-engage/gradecalc/internal/auth"
	auth "github.com/mind-engage/gradecalc/internal/auth/middleware"
	"github.com/mind-engage/gradecalc/internal/config"
	"github.com/mind-engage/gradecalc/internal/simulation"
	"github.com/mind-engage/gradecalc/internal/simulator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), loadConfig(cmd))
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides HTTP_ADDR)")
}

func runServe(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := bootstrapAdmin(ctx, store, cfg); err != nil {
		return err
	}

	sim := simulator.New(cfg.PassingGrade, simulator.WithCeiling(cfg.GradeCeiling))
	svc := simulation.NewService(store, sim, cfg.RequireFullWeight)
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret, cfg.TokenTTL)

	deps := api.Deps{Config: cfg, Service: svc, Auth: authSvc}
	if cfg.EnableGoogleAuth {
		if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
			return errors.New("google auth enabled but GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET missing")
		}
		deps.Google = oauth.NewGoogleProvider(cfg, store, authSvc)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s (mode=%s, db=%s, passing=%v)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver, cfg.PassingGrade)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// bootstrapAdmin makes sure ADMIN_USER exists with ADMIN_PASS_HASH when a
// hash is configured.
func bootstrapAdmin(ctx context.Context, store simulation.Store, cfg config.Config) error {
	if cfg.AdminPassHash == "" {
		return nil
	}
	u, inserted, err := store.UpsertUser(ctx, simulation.User{
		ExternalID:   simulation.LocalExternalID(cfg.AdminUser),
		Username:     cfg.AdminUser,
		Role:         simulation.RoleAdmin,
		PasswordHash: cfg.AdminPassHash,
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if inserted {
		log.Printf("created admin user %q", u.Username)
	}
	return nil
}
