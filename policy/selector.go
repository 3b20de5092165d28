// SPDX-License-Identifier: MIT

package policy

import (
	"path/filepath"

	"github.com/PoliticalSphere/validate-ci/parser"
)

// MatchesStep reports whether the selector addresses the given step of the
// given workflow. Empty selector fields are wildcards, except that a
// selector with neither StepID nor StepName never matches anything.
//
// -workflowRelPath: The workflow path relative to the workspace root.
// -jobID: The id of the job containing the step.
// -step: The step under consideration.
// Returns: true when every populated selector field matches.
func (sel Selector) MatchesStep(workflowRelPath, jobID string, step *parser.Step) bool {
	if step == nil {
		return false
	}
	if sel.StepID == "" && sel.StepName == "" {
		return false
	}
	if sel.WorkflowPath != "" &&
		sel.WorkflowPath != workflowRelPath &&
		sel.WorkflowPath != filepath.Base(workflowRelPath) {
		return false
	}
	if sel.JobID != "" && sel.JobID != jobID {
		return false
	}
	if sel.StepID != "" && sel.StepID != step.ID {
		return false
	}
	if sel.StepName != "" && sel.StepName != step.Name {
		return false
	}
	return true
}

// AnyEntryMatches walks an allowlist and reports whether any active entry
// selects the step. All three selector-based exception tables share this
// routine.
func AnyEntryMatches(entries []SelectorEntry, workflowRelPath, jobID string, step *parser.Step) bool {
	for _, entry := range entries {
		if !entry.Active() {
			continue
		}
		if entry.Selector.MatchesStep(workflowRelPath, jobID, step) {
			return true
		}
	}
	return false
}
