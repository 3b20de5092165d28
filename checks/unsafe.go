// SPDX-License-Identifier: MIT

package checks

import (
	"strings"

	"github.com/PoliticalSphere/validate-ci/parser"
	"github.com/PoliticalSphere/validate-ci/policy"
)

// checkUnsafePatterns evaluates every enabled unsafe pattern against one
// step: the uses-matcher against the action and its with-values, the
// run-matcher against the concatenated run body. Allowlisted steps are
// exempt; broken patterns are findings in their own right.
func (e *Engine) checkUnsafePatterns(relPath, jobID string, step *parser.Step) []Violation {
	if policy.AnyEntryMatches(e.policies.UnsafeAllowlist, relPath, jobID, step) {
		return nil
	}

	var violations []Violation
	for _, pattern := range e.policies.UnsafePatterns {
		if !pattern.Active() {
			continue
		}
		if e.usesMatcherHits(pattern, step) {
			violations = append(violations,
				violationf(relPath, step.Line, step.Column, 3, "unsafe pattern %s", pattern.ID))
			continue
		}
		violations = append(violations, e.runMatcherHits(relPath, pattern, step)...)
	}
	return violations
}

// usesMatcherHits reports whether the step invokes the pattern's action
// with every with-value the pattern names. Step values are compared after
// stripping double quotes.
func (e *Engine) usesMatcherHits(pattern policy.UnsafePattern, step *parser.Step) bool {
	if pattern.Uses == "" || step.Uses == "" {
		return false
	}
	if parser.ParseActionRef(step.Uses).OwnerRepo() != pattern.Uses {
		return false
	}
	for key, want := range pattern.With {
		got, ok := step.With[key]
		if !ok {
			return false
		}
		if strings.Trim(got.Value, `"`) != want {
			return false
		}
	}
	return true
}

// runMatcherHits tests the pattern's run regexes against the step's run
// body. A pattern that fails the safety gate is itself a violation.
func (e *Engine) runMatcherHits(relPath string, pattern policy.UnsafePattern, step *parser.Step) []Violation {
	if step.Run == "" || len(pattern.RunRegex) == 0 {
		return nil
	}

	line, col := step.Line, step.Column
	if len(step.RunLines) > 0 {
		line, col = step.RunLines[0].Line, step.RunLines[0].Column
	}

	var violations []Violation
	for _, raw := range pattern.RunRegex {
		re, err := e.compileCached(raw)
		if err != nil {
			violations = append(violations, violationf(
				relPath, line, col, 3, "unsafe pattern %s has invalid regex: %v", pattern.ID, err))
			continue
		}
		if re.MatchString(step.Run) {
			violations = append(violations,
				violationf(relPath, step.Line, step.Column, 3, "unsafe pattern %s", pattern.ID))
			break
		}
	}
	return violations
}
