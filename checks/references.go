// SPDX-License-Identifier: MIT

package checks

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/PoliticalSphere/validate-ci/githubclient"
	"github.com/PoliticalSphere/validate-ci/parser"
	"github.com/PoliticalSphere/validate-ci/utils"
)

// checkStepReference validates a step's `uses:` reference. Docker and
// local references have their own contracts; remote references go through
// allow-listing, SHA pinning, and optional upstream verification.
func (e *Engine) checkStepReference(ctx context.Context, relPath string, step *parser.Step) []Violation {
	if step.Uses == "" {
		return nil
	}

	ref := parser.ParseActionRef(step.Uses)
	line, col := step.UsesLine, step.UsesColumn
	if line == 0 {
		line, col = step.Line, step.Column
	}

	if ref.IsDocker() {
		if !strings.HasPrefix(ref.Ref, "sha256:") {
			return []Violation{
				violationf(relPath, line, col, 2, "docker action '%s' not digest-pinned", step.Uses),
			}
		}
		return nil
	}

	if ref.IsLocal() {
		return e.checkLocalAction(relPath, ref.Action, line, col)
	}

	return e.checkRemoteRef(ctx, relPath, ref, line, col)
}

// checkLocalAction confirms a local reference stays inside the repository,
// lives under .github/actions/, and points at a directory carrying an
// action definition.
func (e *Engine) checkLocalAction(relPath, action string, line, col int) []Violation {
	var violations []Violation

	resolved, err := utils.ResolveUnderRoot(e.workspaceRoot, action)
	if err != nil {
		return []Violation{
			violationf(relPath, line, col, 2, "local action '%s' path escapes repo", action),
		}
	}

	normalized := strings.TrimPrefix(action, "./")
	if !strings.HasPrefix(normalized, ".github/actions/") {
		violations = append(violations,
			violationf(relPath, line, col, 2, "local action '%s' outside .github/actions/", action))
	}

	if !fileExists(filepath.Join(resolved, "action.yml")) &&
		!fileExists(filepath.Join(resolved, "action.yaml")) {
		violations = append(violations,
			violationf(relPath, line, col, 2, "local action '%s' missing action.yml", action))
	}
	return violations
}

// checkRemoteRef applies the remote-reference contract shared by workflow
// steps and composite-action lines: allow-listing on owner/repo, SHA
// pinning, then upstream existence when verification is on.
func (e *Engine) checkRemoteRef(ctx context.Context, relPath string, ref parser.ActionRef, line, col int) []Violation {
	var violations []Violation
	ownerRepo := ref.OwnerRepo()

	if !e.policies.AllowedActions[ownerRepo] {
		violations = append(violations,
			violationf(relPath, line, col, 3, "action '%s' not in allowlist", ownerRepo))
	}

	if !parser.IsSHAShaped(ref.Ref) {
		violations = append(violations,
			violationf(relPath, line, col, 1, "action '%s' not SHA-pinned", ownerRepo))
		return violations
	}

	if e.verifier == nil {
		return violations
	}
	result := e.verifier.Verify(ctx, ref.Action, ref.Ref)
	if result.OK {
		return violations
	}
	if v, ok := verifierViolation(relPath, ownerRepo, result.Reason, line, col); ok {
		violations = append(violations, v)
	}
	return violations
}

// verifierViolation translates a verifier failure reason into a violation.
// Invalid references are weight 3; transport-class failures are weight 2.
func verifierViolation(relPath, ownerRepo, reason string, line, col int) (Violation, bool) {
	switch reason {
	case githubclient.ReasonRefNotFound:
		return violationf(relPath, line, col, 3,
			"action '%s' ref not found upstream", ownerRepo), true
	case githubclient.ReasonInvalidActionRef:
		return violationf(relPath, line, col, 3,
			"invalid action reference '%s'", ownerRepo), true
	case githubclient.ReasonAPIUnreachable:
		return violationf(relPath, line, col, 2,
			"action ref could not be verified (GitHub API unreachable)"), true
	case githubclient.ReasonUnauthorized:
		return violationf(relPath, line, col, 2,
			"action ref could not be verified (unauthorized)"), true
	case githubclient.ReasonRateLimited:
		return violationf(relPath, line, col, 2,
			"action ref could not be verified (rate limited)"), true
	case githubclient.ReasonForbiddenOrRateLimited:
		return violationf(relPath, line, col, 2,
			"action ref could not be verified (forbidden or rate limited)"), true
	case githubclient.ReasonUnexpectedStatus:
		return violationf(relPath, line, col, 2,
			"action ref could not be verified (unexpected API status)"), true
	}
	// Bypass reasons carry OK=true and never reach here; anything else is
	// dropped rather than guessed at.
	return Violation{}, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
