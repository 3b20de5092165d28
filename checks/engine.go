// SPDX-License-Identifier: MIT

package checks

import (
	"context"
	"fmt"

	"github.com/PoliticalSphere/validate-ci/parser"
)

// CheckWorkflow runs every rule family against one parsed workflow. The
// returned violations are ordered: top-level checks first, then per-job and
// per-step checks in source order, then the artifact policy.
//
// -ctx: Context for remote verification calls.
// -wf: The parsed workflow.
// -relPath: Workflow path relative to the workspace root, used in selector
// and trigger-allowlist lookups and as the violation path.
// Returns: The accumulated violations, deduplicated, possibly empty.
func (e *Engine) CheckWorkflow(ctx context.Context, wf *parser.Workflow, relPath string) []Violation {
	var violations []Violation

	violations = append(violations, e.checkTopLevelPermissions(wf, relPath)...)
	violations = append(violations, e.checkHighRiskTriggers(wf, relPath)...)

	for _, jobID := range wf.JobOrder {
		job := wf.Jobs[jobID]
		violations = append(violations, e.checkJobPermissions(wf, relPath, job)...)
		violations = append(violations, e.checkHardenedRunnerFirst(relPath, job)...)

		for _, step := range job.Steps {
			violations = append(violations, e.checkStepReference(ctx, relPath, step)...)
			violations = append(violations, e.checkUnsafePatterns(relPath, jobID, step)...)
			violations = append(violations, e.checkInlineRun(relPath, jobID, step)...)
		}
	}

	violations = append(violations, e.checkArtifacts(wf, relPath)...)

	return dedupe(violations)
}

// violationf is the single construction point so message formatting stays
// uniform across rule files.
func violationf(path string, line, column, weight int, format string, args ...any) Violation {
	return Violation{
		Path:    path,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Column:  column,
		Weight:  weight,
	}
}
