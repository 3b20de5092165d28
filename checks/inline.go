// SPDX-License-Identifier: MIT

package checks

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PoliticalSphere/validate-ci/parser"
	"github.com/PoliticalSphere/validate-ci/policy"
)

var (
	secretsInterpRe = regexp.MustCompile(`\$\{\{\s*secrets\.`)
	xtraceRe        = regexp.MustCompile(`set\s+(-x\b|-o\s+xtrace\b)`)
	echoPrintfRe    = regexp.MustCompile("(^|[;&|`\\s(])(echo|printf)\\b")
	pipefailRe      = regexp.MustCompile(`(^|\s)set -euo pipefail(\s|$)`)
)

// pipefailLiteral is matched as a whole-word regex instead of a plain
// substring when it appears in require_contains_all.
const pipefailLiteral = "set -euo pipefail"

// checkInlineRun applies the secrets-hygiene rules to every step with a run
// body, then the size/strictness rules for ordinary steps or the constraint
// rules for allowlisted ones, and finally replays the unsafe run-regex
// matchers under the same suppression.
func (e *Engine) checkInlineRun(relPath, jobID string, step *parser.Step) []Violation {
	if step.Run == "" {
		return nil
	}

	var violations []Violation
	violations = append(violations, e.secretsHygiene(relPath, step)...)

	if policy.AnyEntryMatches(e.policies.InlineAllowlist, relPath, jobID, step) {
		violations = append(violations, e.inlineConstraints(relPath, step)...)
	} else {
		violations = append(violations, e.inlineStrictness(relPath, step)...)
	}

	// Replay of the run-regex matchers; identical findings are collapsed
	// by the engine's dedupe.
	if !policy.AnyEntryMatches(e.policies.UnsafeAllowlist, relPath, jobID, step) {
		for _, pattern := range e.policies.UnsafePatterns {
			if pattern.Active() {
				violations = append(violations, e.runMatcherHits(relPath, pattern, step)...)
			}
		}
	}

	if e.policies.Rules.OutputsAndArtifacts.RequireSectionHeaders &&
		!strings.Contains(step.Run, "print-section.sh") {
		violations = append(violations,
			violationf(relPath, step.Line, step.Column, 1, "run does not invoke print-section.sh"))
	}

	return violations
}

// secretsHygiene flags secret interpolation in run bodies and with-values,
// and the especially leaky combinations with xtrace and echo/printf. These
// rules apply to every step, allowlisted or not.
func (e *Engine) secretsHygiene(relPath string, step *parser.Step) []Violation {
	var violations []Violation

	runLine, runCol := step.Line, step.Column
	if len(step.RunLines) > 0 {
		runLine, runCol = step.RunLines[0].Line, step.RunLines[0].Column
	}

	runHasSecrets := secretsInterpRe.MatchString(step.Run)
	if runHasSecrets {
		violations = append(violations,
			violationf(relPath, runLine, runCol, 3, "secrets interpolated in run"))
	}

	withKeys := make([]string, 0, len(step.With))
	for key := range step.With {
		withKeys = append(withKeys, key)
	}
	sort.Strings(withKeys)
	for _, key := range withKeys {
		if wv := step.With[key]; secretsInterpRe.MatchString(wv.Value) {
			violations = append(violations,
				violationf(relPath, wv.Line, wv.Column, 3, "secrets interpolated in 'with' (%s)", key))
		}
	}

	if runHasSecrets && xtraceRe.MatchString(step.Run) {
		violations = append(violations,
			violationf(relPath, runLine, runCol, 3, "debug xtrace used alongside secrets"))
	}

	for _, rl := range step.RunLines {
		if secretsInterpRe.MatchString(rl.Text) && echoPrintfRe.MatchString(rl.Text) {
			violations = append(violations,
				violationf(relPath, rl.Line, rl.Column, 3, "echo/printf used alongside secrets"))
			break
		}
	}
	return violations
}

// inlineStrictness holds ordinary inline steps to the strict-mode and size
// rules.
func (e *Engine) inlineStrictness(relPath string, step *parser.Step) []Violation {
	var violations []Violation

	if !strings.Contains(step.Run, pipefailLiteral) {
		violations = append(violations,
			violationf(relPath, step.Line, step.Column, 1, "run missing 'set -euo pipefail'"))
	}

	maxLines := e.policies.Rules.InlineRun.MaxInlineLines
	if n := countEffectiveLines(step.RunLines); n > maxLines {
		violations = append(violations, violationf(
			relPath, step.Line, step.Column, 1,
			"inline bash too long (%d lines, max %d)", n, maxLines))
	}
	return violations
}

// inlineConstraints applies the allowlist-conditional constraints: the
// first matching forbid pattern, and every missing required string.
func (e *Engine) inlineConstraints(relPath string, step *parser.Step) []Violation {
	var violations []Violation
	constraints := e.policies.InlineConstraints

	line, col := step.Line, step.Column
	if len(step.RunLines) > 0 {
		line, col = step.RunLines[0].Line, step.RunLines[0].Column
	}

	for _, raw := range constraints.ForbidRegex {
		re, err := e.compileCached(raw)
		if err != nil {
			violations = append(violations, violationf(
				relPath, line, col, 3, "inline constraint has invalid regex: %v", err))
			continue
		}
		if re.MatchString(step.Run) {
			violations = append(violations,
				violationf(relPath, line, col, 2, "allowlist constraints violated"))
			break
		}
	}

	for _, want := range constraints.RequireContains {
		present := strings.Contains(step.Run, want)
		if want == pipefailLiteral {
			present = pipefailRe.MatchString(step.Run)
		}
		if !present {
			violations = append(violations,
				violationf(relPath, step.Line, step.Column, 2, "missing required content: %s", want))
		}
	}
	return violations
}

// countEffectiveLines counts run lines that are neither blank nor pure
// comments.
func countEffectiveLines(lines []parser.RunLine) int {
	n := 0
	for _, rl := range lines {
		text := strings.TrimSpace(rl.Text)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		n++
	}
	return n
}
