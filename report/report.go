// SPDX-License-Identifier: MIT

// Package report turns the collected violations into the score, the JSON
// artifact, and the human-readable exit summary.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"

	"github.com/PoliticalSphere/validate-ci/checks"
	"github.com/PoliticalSphere/validate-ci/policy"
)

// weightToPercent converts one violation weight unit into score deduction.
const weightToPercent = 10

// Report is the stable JSON artifact of a run.
type Report struct {
	Score            int                `json:"score"`
	DeductionPercent int                `json:"deductionPercent"`
	TotalWeight      int                `json:"totalWeight"`
	Threshold        *int               `json:"threshold"`
	Violations       []checks.Violation `json:"violations"`
}

// Build computes the score from the violation weights.
//
// -violations: Every violation collected across the run, in report order.
// -threshold: The optional score floor from enforcement config.
// Returns: The assembled report; Violations is never nil.
func Build(violations []checks.Violation, threshold policy.Threshold) Report {
	total := 0
	for _, v := range violations {
		total += v.Weight
	}
	deduction := total * weightToPercent
	if deduction > 100 {
		deduction = 100
	}
	score := 100 - deduction

	r := Report{
		Score:            score,
		DeductionPercent: deduction,
		TotalWeight:      total,
		Violations:       violations,
	}
	if r.Violations == nil {
		r.Violations = []checks.Violation{}
	}
	if threshold.Set {
		t := threshold.Value
		r.Threshold = &t
	}
	return r
}

// Failed reports whether the run fails: any violation, or a configured
// threshold the score falls below.
func (r Report) Failed() bool {
	if len(r.Violations) > 0 {
		return true
	}
	return r.Threshold != nil && r.Score < *r.Threshold
}

// DefaultPath is the report location under a workspace root.
func DefaultPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, "reports", "validate-ci", "validate-ci.json")
}

// Write emits the JSON artifact, creating parent directories as needed.
// Callers treat a write failure as non-fatal: a read-only filesystem must
// not mask a passing run.
func Write(path string, r Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil { //nolint:mnd
		return fmt.Errorf("could not create report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o640); err != nil { //nolint:mnd
		return fmt.Errorf("could not write report %s: %w", path, err)
	}
	return nil
}

var (
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	passStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

// PrintFailure writes every violation in path:line[:col] form followed by
// the score summary.
func PrintFailure(w io.Writer, r Report) {
	for _, v := range r.Violations {
		if v.Column > 0 {
			fmt.Fprintf(w, "%s:%d:%d - %s (weight=%d)\n", v.Path, v.Line, v.Column, v.Message, v.Weight)
		} else {
			fmt.Fprintf(w, "%s:%d - %s (weight=%d)\n", v.Path, v.Line, v.Message, v.Weight)
		}
	}
	fmt.Fprintf(w, "%s score %d/100 (deduction %d%%, total weight %d)\n",
		failStyle.Render("validate-ci failed:"), r.Score, r.DeductionPercent, r.TotalWeight)
	if r.Threshold != nil {
		fmt.Fprintf(w, "score threshold: %d\n", *r.Threshold)
	}
}

// PrintSuccess writes the single passed line.
func PrintSuccess(w io.Writer, r Report) {
	fmt.Fprintf(w, "%s score %d/100\n", passStyle.Render("validate-ci passed:"), r.Score)
}
