// SPDX-License-Identifier: MIT

package checks

import (
	"path/filepath"

	"github.com/PoliticalSphere/validate-ci/parser"
)

// checkHighRiskTriggers requires every high-risk trigger of the workflow to
// be allow-listed for this workflow's path.
func (e *Engine) checkHighRiskTriggers(wf *parser.Workflow, relPath string) []Violation {
	hr := e.policies.HighRiskTriggers

	var violations []Violation
	for _, trigger := range wf.Triggers {
		if !hr.Triggers[trigger] {
			continue
		}
		if allowedTrigger(hr.Allowlist, relPath, trigger) {
			continue
		}
		violations = append(violations,
			violationf(relPath, 1, 1, 1, "high-risk trigger '%s' not allowlisted", trigger))
	}
	return violations
}

// allowedTrigger accepts the workflow's relative path or its basename as
// the allowlist key; platform configs use both spellings.
func allowedTrigger(allowlist map[string]map[string]bool, relPath, trigger string) bool {
	if allowlist[relPath][trigger] {
		return true
	}
	return allowlist[filepath.Base(relPath)][trigger]
}
