// SPDX-License-Identifier: MIT

// Package workspace resolves the roots and discovers the files a run
// operates on: workflow definitions under the workspace and composite
// action definitions under the platform root.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PoliticalSphere/validate-ci/utils"
)

// workflowsDir is where GitHub looks for workflow definitions.
const workflowsDir = ".github/workflows"

// Roots are the two directories a run operates on. Platform may equal
// Workspace when the repository carries its own policies.
type Roots struct {
	Workspace string
	Platform  string
}

// Resolve normalizes the workspace argument and the platform override into
// absolute roots.
//
// -workspaceArg: Positional workspace path, empty for the current directory.
// -platformOverride: PS_PLATFORM_ROOT value, empty to reuse the workspace.
// Returns: Absolute roots, or an error when a path cannot be resolved or
// does not exist.
func Resolve(workspaceArg, platformOverride string) (Roots, error) {
	ws := workspaceArg
	if ws == "" {
		ws = "."
	}
	absWS, err := filepath.Abs(ws)
	if err != nil {
		return Roots{}, fmt.Errorf("could not resolve workspace root %q: %w", ws, err)
	}
	if info, err := os.Stat(absWS); err != nil || !info.IsDir() {
		return Roots{}, fmt.Errorf("workspace root is not a directory: %s", absWS)
	}

	platform := absWS
	if platformOverride != "" {
		platform, err = filepath.Abs(platformOverride)
		if err != nil {
			return Roots{}, fmt.Errorf("could not resolve platform root %q: %w", platformOverride, err)
		}
		if info, err := os.Stat(platform); err != nil || !info.IsDir() {
			return Roots{}, fmt.Errorf("platform root is not a directory: %s", platform)
		}
	}
	return Roots{Workspace: absWS, Platform: platform}, nil
}

// DiscoverWorkflows lists workflow YAML files under .github/workflows,
// recursively, as sorted workspace-relative paths. A missing directory is
// not an error; the caller decides whether an empty set is fatal.
func DiscoverWorkflows(workspaceRoot string) ([]string, error) {
	root := filepath.Join(workspaceRoot, workflowsDir)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read workflows directory %s: %w", root, err)
	}

	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !utils.IsYAMLFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(workspaceRoot, path)
		if err != nil {
			return err
		}
		found = append(found, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workflow discovery failed: %w", err)
	}
	sort.Strings(found)
	return found, nil
}

// DiscoverActions lists composite action definitions (files named
// action.yml or action.yaml) anywhere under the platform root, as sorted
// platform-relative paths.
func DiscoverActions(platformRoot string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(platformRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != "action.yml" && d.Name() != "action.yaml" {
			return nil
		}
		rel, err := filepath.Rel(platformRoot, path)
		if err != nil {
			return err
		}
		found = append(found, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("action discovery failed: %w", err)
	}
	sort.Strings(found)
	return found, nil
}
