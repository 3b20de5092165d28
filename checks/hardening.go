// SPDX-License-Identifier: MIT

package checks

import (
	"strings"

	"github.com/PoliticalSphere/validate-ci/parser"
)

// hardenedRunnerPrefix is always accepted as a hardened first step, on top
// of whatever the runner_hardening rule configures.
const hardenedRunnerPrefix = "step-security/harden-runner@"

// checkHardenedRunnerFirst enforces runner hardening ordering: the first
// step of a job is a hardened-runner step, or actions/checkout immediately
// followed by one.
func (e *Engine) checkHardenedRunnerFirst(relPath string, job *parser.Job) []Violation {
	if len(job.Steps) == 0 {
		return nil
	}

	first := job.Steps[0]
	if e.isHardenedRunnerStep(first) {
		return nil
	}
	if strings.HasPrefix(first.Uses, "actions/checkout@") &&
		len(job.Steps) > 1 && e.isHardenedRunnerStep(job.Steps[1]) {
		return nil
	}

	return []Violation{
		violationf(relPath, first.Line, first.Column, 2, "first step must be hardened runner"),
	}
}

func (e *Engine) isHardenedRunnerStep(step *parser.Step) bool {
	if step.Uses == "" {
		return false
	}
	if strings.HasPrefix(step.Uses, hardenedRunnerPrefix) {
		return true
	}
	for _, prefix := range e.policies.Rules.RunnerHardening.AllowedFirstSteps {
		if prefix != "" && strings.HasPrefix(step.Uses, prefix) {
			return true
		}
	}
	return false
}
