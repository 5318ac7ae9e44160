package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mind-engage/gradecalc/internal/simulation"
	"github.com/mind-engage/gradecalc/internal/simulator"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Compute a simulation from a JSON file without saving it",
	Long: `Reads {"courseId": "...", "evaluations": [...]} (courseId optional) or a bare
evaluations array, and prints the current average and the grade needed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		path, _ := cmd.Flags().GetString("file")
		asJSON, _ := cmd.Flags().GetBool("json")
		passing := cfg.PassingGrade
		if cmd.Flags().Changed("passing") {
			passing, _ = cmd.Flags().GetFloat64("passing")
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		evals, err := parseEvaluations(raw)
		if err != nil {
			return err
		}

		sim := simulator.New(passing, simulator.WithCeiling(cfg.GradeCeiling))
		res, err := simulation.NewService(nil, sim, cfg.RequireFullWeight).Simulate(evals)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintln(out, renderResult(evals, res, passing))
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringP("file", "f", "", "JSON file with evaluations (required)")
	simulateCmd.Flags().Float64("passing", simulator.DefaultPassingGrade, "Passing grade (overrides PASSING_GRADE)")
	simulateCmd.Flags().Bool("json", false, "Print the result as JSON")
	_ = simulateCmd.MarkFlagRequired("file")
}

func parseEvaluations(raw []byte) ([]simulation.Evaluation, error) {
	var evals []simulation.Evaluation
	if err := json.Unmarshal(raw, &evals); err == nil {
		return evals, nil
	}
	var req simulation.CalculateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("parse evaluations: %w", err)
	}
	return req.Evaluations, nil
}
