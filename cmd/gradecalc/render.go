package main

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/mind-engage/gradecalc/internal/simulation"
	"github.com/mind-engage/gradecalc/internal/simulator"
)

var (
	colorPrimary = lipgloss.Color("#8B5CF6")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarn    = lipgloss.Color("#F97316")
	colorError   = lipgloss.Color("#F43F5E")
	colorDim     = lipgloss.Color("#94A3B8")
	colorBorder  = lipgloss.Color("#334155")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
	labelStyle = lipgloss.NewStyle().Width(18)
	cardStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

func outcomeStyle(o simulator.Outcome) lipgloss.Style {
	switch o {
	case simulator.OutcomeApproved:
		return lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	case simulator.OutcomeReachable:
		return lipgloss.NewStyle().Bold(true).Foreground(colorWarn)
	default:
		return lipgloss.NewStyle().Bold(true).Foreground(colorError)
	}
}

func outcomeText(res simulator.Result, passing float64) string {
	switch res.Outcome {
	case simulator.OutcomeApproved:
		return "Approved"
	case simulator.OutcomeReachable:
		return fmt.Sprintf("Needs %.2f on the remaining evaluations", *res.GradeNeeded)
	case simulator.OutcomeUnreachable:
		return fmt.Sprintf("Cannot reach %.2f with the remaining evaluations", passing)
	default:
		return "Failed"
	}
}

func renderResult(evals []simulation.Evaluation, res simulator.Result, passing float64) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Evaluations") + "\n")
	for i, e := range evals {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		grade := dimStyle.Render("pending")
		if e.Grade != nil {
			grade = fmt.Sprintf("%g/%g", *e.Grade, e.MaxGrade)
		}
		fmt.Fprintf(&b, "%s %5.1f%%  %s\n", labelStyle.Render(name), e.Weight*100, grade)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %.2f\n", labelStyle.Render("Current average"), res.CurrentAverage)
	fmt.Fprintf(&b, "%s %.2f\n", labelStyle.Render("Passing grade"), passing)
	fmt.Fprintf(&b, "%s %.0f%%\n", labelStyle.Render("Remaining weight"), res.RemainingWeight*100)
	b.WriteString(outcomeStyle(res.Outcome).Render(outcomeText(res, passing)))
	return cardStyle.Render(b.String())
}
