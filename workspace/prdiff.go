// SPDX-License-Identifier: MIT

package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/PoliticalSphere/validate-ci/utils"
)

// gitTimeout bounds any single git invocation used for PR range
// resolution.
const gitTimeout = 10 * time.Second

// PRRange is the base..head window of a pull request.
type PRRange struct {
	Base string
	Head string
}

// FilterToPRDiff restricts files to those changed in the PR range. When
// the range cannot be resolved the full set comes back with ok=false so
// the caller logs the downgrade; a fail-open is never silent.
//
// -workspaceRoot: The git repository to diff.
// -files: Workspace-relative candidate paths.
// -pr: The base and head SHAs.
// Returns: The filtered (or original) list and whether filtering applied.
func FilterToPRDiff(ctx context.Context, workspaceRoot string, files []string, pr PRRange) ([]string, bool) {
	if pr.Base == "" || pr.Head == "" {
		return files, false
	}

	for _, sha := range []string{pr.Base, pr.Head} {
		if !ensureCommit(ctx, workspaceRoot, sha) {
			return files, false
		}
	}

	out, err := runGit(ctx, workspaceRoot, "diff", "--name-only", pr.Base+".."+pr.Head)
	if err != nil {
		utils.Logger.Debugf("git diff %s..%s failed: %v", pr.Base, pr.Head, err)
		return files, false
	}

	changed := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			changed[line] = true
		}
	}

	var filtered []string
	for _, f := range files {
		if changed[f] {
			filtered = append(filtered, f)
		}
	}
	return filtered, true
}

// ensureCommit checks that a commit is reachable, shallow-fetching it on
// demand for checkouts that do not carry the PR base.
func ensureCommit(ctx context.Context, workspaceRoot, sha string) bool {
	if _, err := runGit(ctx, workspaceRoot, "cat-file", "-e", sha+"^{commit}"); err == nil {
		return true
	}
	utils.Logger.Debugf("commit %s not local, attempting shallow fetch", sha)
	if _, err := runGit(ctx, workspaceRoot, "fetch", "--depth=1", "origin", sha); err != nil {
		return false
	}
	_, err := runGit(ctx, workspaceRoot, "cat-file", "-e", sha+"^{commit}")
	return err == nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
