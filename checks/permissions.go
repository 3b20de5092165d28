// SPDX-License-Identifier: MIT

package checks

import (
	"sort"

	"github.com/PoliticalSphere/validate-ci/parser"
)

// checkTopLevelPermissions enforces the workflow-level permission contract:
// a workflow needs either a configured baseline or an explicit top-level
// permissions block, and declared permissions may not exceed their baseline
// ceiling without a justification comment.
func (e *Engine) checkTopLevelPermissions(wf *parser.Workflow, relPath string) []Violation {
	var violations []Violation
	baseline := e.policies.Baseline

	if !baseline.HasWorkflow(wf.Key) && !wf.PermissionsDeclared {
		violations = append(violations,
			violationf(relPath, 1, 1, 3, "no permissions baseline for workflow '%s'", wf.Key),
			violationf(relPath, 1, 1, 3, "missing top-level permissions"),
		)
		return violations
	}

	if baseline.HasWorkflow(wf.Key) {
		violations = append(violations,
			e.elevatedPermissions(relPath, wf.Key, wf.Permissions, 2)...)
	}
	return violations
}

// checkJobPermissions mirrors the workflow-level rule per job: every job
// must declare permissions, and declared levels are held to the same
// per-workflow baseline.
func (e *Engine) checkJobPermissions(wf *parser.Workflow, relPath string, job *parser.Job) []Violation {
	var violations []Violation

	if !job.PermissionsDeclared {
		violations = append(violations,
			violationf(relPath, job.Line, job.Column, 3, "job '%s' missing permissions", job.ID))
	}

	if e.policies.Baseline.HasWorkflow(wf.Key) {
		violations = append(violations,
			e.elevatedPermissions(relPath, wf.Key, job.Permissions, 2)...)
	}
	return violations
}

// elevatedPermissions compares declared permission levels against the
// baseline ceiling (or the unspecified default) in deterministic name
// order. A justification comment on the permission line suppresses the
// finding.
func (e *Engine) elevatedPermissions(relPath, workflowKey string, perms map[string]parser.PermissionEntry, weight int) []Violation {
	names := make([]string, 0, len(perms))
	for name := range perms {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []Violation
	for _, name := range names {
		entry := perms[name]
		ceiling := parser.NormalizeLevel(e.policies.Baseline.MaxLevel(workflowKey, name))
		if parser.LevelRank(entry.Level) <= parser.LevelRank(ceiling) {
			continue
		}
		if entry.HasJustification {
			continue
		}
		violations = append(violations, violationf(
			relPath, entry.Line, entry.Column, weight,
			"permissions '%s' elevated without justification", name))
	}
	return violations
}
