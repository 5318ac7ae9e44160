package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/gradecalc/internal/simulation"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		role, _ := cmd.Flags().GetString("role")
		externalID, _ := cmd.Flags().GetString("external-id")

		u, err := newUser(username, password, role, externalID)
		if err != nil {
			return err
		}

		store, closeStore, err := openStore(cmd.Context(), loadConfig(cmd))
		if err != nil {
			return err
		}
		defer closeStore()

		u, inserted, err := store.UpsertUser(cmd.Context(), u)
		if err != nil {
			return err
		}
		verb := "updated"
		if inserted {
			verb = "created"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s user %s (%s, role=%s)\n", verb, u.Username, u.ExternalID, u.Role)
		return nil
	},
}

func init() {
	userAddCmd.Flags().String("username", "", "Username (required)")
	userAddCmd.Flags().String("password", "", "Password for local login")
	userAddCmd.Flags().String("role", simulation.RoleStudent, "student|admin")
	userAddCmd.Flags().String("external-id", "", "Identity-provider subject (default local|<username>)")
	_ = userAddCmd.MarkFlagRequired("username")

	userCmd.AddCommand(userAddCmd)
}

func newUser(username, password, role, externalID string) (simulation.User, error) {
	if username == "" {
		return simulation.User{}, errors.New("username is required")
	}
	if !simulation.ValidRole(role) {
		return simulation.User{}, fmt.Errorf("invalid role: %s", role)
	}
	if externalID == "" {
		externalID = simulation.LocalExternalID(username)
	}
	u := simulation.User{ExternalID: externalID, Username: username, Role: role}
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return simulation.User{}, err
		}
		u.PasswordHash = string(h)
	}
	return u, nil
}
