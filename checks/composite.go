// SPDX-License-Identifier: MIT

package checks

import (
	"context"
	"strings"

	"github.com/PoliticalSphere/validate-ci/parser"
)

// CheckActionFile scans a composite action definition. Every `uses:` line
// is held to the remote-reference contract; local references are wired up
// by the workflow-side local-action check and are ignored here.
//
// -ctx: Context for remote verification calls.
// -relPath: Action file path relative to the platform root, used as the
// violation path.
// -data: Raw file contents.
// Returns: The accumulated violations, possibly empty.
func (e *Engine) CheckActionFile(ctx context.Context, relPath string, data []byte) []Violation {
	var violations []Violation

	for _, ul := range parser.ScanUsesLines(data) {
		ref := parser.ParseActionRef(ul.Value)
		if ref.IsLocal() {
			continue
		}
		if ref.IsDocker() {
			if !strings.HasPrefix(ref.Ref, "sha256:") {
				violations = append(violations, violationf(
					relPath, ul.Line, ul.Column, 2, "docker action '%s' not digest-pinned", ul.Value))
			}
			continue
		}
		violations = append(violations, e.checkRemoteRef(ctx, relPath, ref, ul.Line, ul.Column)...)
	}

	return dedupe(violations)
}
