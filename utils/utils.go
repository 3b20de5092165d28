// SPDX-License-Identifier: MIT

package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// BuildVersion formats the build-time version metadata into a single string
// for cobra's version template.
//
// -version: Semantic version string, may be empty for source builds.
// -commit: Git commit hash the binary was built from.
// -date: Build timestamp.
// -builtBy: Builder identifier (e.g., "goreleaser", "source").
// Returns: A formatted version string, "dev" when nothing is set.
func BuildVersion(version, commit, date, builtBy string) string {
	if version == "" {
		version = "dev"
	}
	result := version
	if commit != "" {
		result = fmt.Sprintf("%s\nCommit: %s", result, commit)
	}
	if date != "" {
		result = fmt.Sprintf("%s\nBuilt at: %s", result, date)
	}
	if builtBy != "" {
		result = fmt.Sprintf("%s\nBuilt by: %s", result, builtBy)
	}
	return result
}

// ResolveUnderRoot resolves a relative reference against root and confirms
// the result stays inside root. It is the containment check behind the
// local-action rules: a reference that climbs out of the repository is
// rejected before any filesystem access happens.
//
// -root: The absolute directory the reference must stay within.
// -ref: The (possibly dot-relative) path to resolve.
// Returns: The cleaned absolute path, and an error when the path escapes root.
func ResolveUnderRoot(root, ref string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("could not resolve root %q: %w", root, err)
	}

	joined := filepath.Clean(filepath.Join(absRoot, ref))
	if joined != absRoot && !strings.HasPrefix(joined, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q resolves outside repository root %q", ref, root)
	}
	return joined, nil
}

// WorkflowKey strips the .yml/.yaml suffix from a workflow file name. The
// key is the identity for every per-workflow policy lookup; the path stays
// the identity for diagnostics.
//
// -path: A workflow file path or basename.
// Returns: The basename with its YAML extension removed.
func WorkflowKey(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".yml")
	base = strings.TrimSuffix(base, ".yaml")
	return base
}

// IsYAMLFile reports whether a file name carries a workflow-eligible YAML
// extension.
func IsYAMLFile(name string) bool {
	return strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")
}

// EnvTruthy interprets the conventional environment toggle values. Empty
// strings are false; "0", "false" and "no" (any case) are false; everything
// else is true.
func EnvTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no":
		return false
	}
	return true
}
