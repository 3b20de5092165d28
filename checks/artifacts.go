// SPDX-License-Identifier: MIT

package checks

import (
	"strings"

	"github.com/PoliticalSphere/validate-ci/parser"
)

// parametricPathMarker disables the required-paths comparison: a workflow
// whose upload paths come from inputs cannot be checked statically.
const parametricPathMarker = "inputs.artifact_paths"

// checkArtifacts runs after all steps: for workflows under artifact
// policy, every uploaded artifact name must be allow-listed and every
// required path substring must appear in at least one declared upload path.
func (e *Engine) checkArtifacts(wf *parser.Workflow, relPath string) []Violation {
	allowed, ok := e.policies.Artifacts.Allowlist[wf.Key]
	if !ok {
		return nil
	}

	var violations []Violation
	var declaredPaths []string
	parametric := false

	for _, jobID := range wf.JobOrder {
		for _, step := range wf.Jobs[jobID].Steps {
			if !parser.IsActionUpload(step.Uses) {
				continue
			}

			if nameVal, ok := step.With["name"]; ok {
				name := strings.Trim(nameVal.Value, `"`)
				if name != "" && !allowed[name] {
					violations = append(violations, violationf(
						relPath, nameVal.Line, nameVal.Column, 1,
						"artifact '%s' not allowlisted for workflow '%s'", name, wf.Key))
				}
			}

			for _, p := range parser.ExtractUploadPaths(step) {
				declaredPaths = append(declaredPaths, p)
				if strings.Contains(p, parametricPathMarker) {
					parametric = true
				}
			}
		}
	}

	if parametric {
		return violations
	}

	for _, required := range e.policies.Artifacts.RequiredPaths {
		found := false
		for _, p := range declaredPaths {
			if strings.Contains(p, required) {
				found = true
				break
			}
		}
		if !found {
			violations = append(violations, violationf(
				relPath, 1, 1, 1, "required artifact path '%s' not declared", required))
		}
	}
	return violations
}
