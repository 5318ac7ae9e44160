package main

import (
	"github.com/spf13/cobra"

	"github.com/mind-engage/gradecalc/internal/config"
)

var rootCmd = &cobra.Command{
	Use:          "gradecalc",
	Short:        "Grade simulation service",
	Long:         "gradecalc computes weighted course averages and the grade still needed to pass, and serves them over an authenticated HTTP API.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		p, _ := cmd.Flags().GetString("env-file")
		return config.LoadEnv(p)
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to an env file (process environment wins)")
	rootCmd.PersistentFlags().String("db-driver", "", "sqlite|postgres|mongo (overrides DB_DRIVER)")
	rootCmd.PersistentFlags().String("db-dsn", "", "Database DSN or Mongo URI (overrides DB_DSN / MONGO_URI)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.FromEnv()
	if v, _ := cmd.Flags().GetString("db-driver"); v != "" {
		cfg.DBDriver = v
	}
	if v, _ := cmd.Flags().GetString("db-dsn"); v != "" {
		if cfg.DBDriver == "mongo" {
			cfg.MongoURI = v
		} else {
			cfg.DBDSN = v
		}
	}
	if cmd.Flags().Lookup("addr") != nil {
		if v, _ := cmd.Flags().GetString("addr"); v != "" {
			cfg.HTTPAddr = v
		}
	}
	return cfg
}
