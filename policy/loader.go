// SPDX-License-Identifier: MIT

package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Well-known policy file locations relative to the platform root.
const (
	RootConfigPath          = "configs/ci/policies/validate-ci.yml"
	ActionsAllowlistPath    = "configs/ci/exceptions/actions-allowlist.yml"
	UnsafePatternsPath      = "configs/ci/policies/unsafe-patterns.yml"
	UnsafeAllowlistPath     = "configs/ci/exceptions/unsafe-patterns-allowlist.yml"
	InlineBashAllowlistPath = "configs/ci/exceptions/inline-bash-allowlist.yml"
	HighRiskAllowlistPath   = "configs/ci/exceptions/high-risk-triggers-allowlist.yml"
	PermissionsBaselinePath = "configs/ci/policies/permissions-baseline.yml"
	ArtifactPolicyPath      = "configs/ci/policies/artifact-policy.yml"

	defaultMaxInlineLines   = 20
	defaultUnspecifiedLevel = "none"
)

// Options adjusts where the loader looks.
type Options struct {
	PlatformRoot   string
	RootConfigPath string // overrides the validate-ci.yml location when set
}

// Load reads the eight policy files and asserts their structure. Every
// error returned here is fatal to the run.
//
// -opts: Platform root and optional root-config override.
// Returns: The immutable table set, or the first load error encountered.
func Load(opts Options) (*Set, error) {
	set := &Set{}

	rootPath := opts.RootConfigPath
	if rootPath == "" {
		rootPath = filepath.Join(opts.PlatformRoot, RootConfigPath)
	}

	if err := loadRootConfig(rootPath, set); err != nil {
		return nil, err
	}
	if err := loadActionsAllowlist(filepath.Join(opts.PlatformRoot, ActionsAllowlistPath), set); err != nil {
		return nil, err
	}
	if err := loadUnsafePatterns(filepath.Join(opts.PlatformRoot, UnsafePatternsPath), set); err != nil {
		return nil, err
	}
	if err := loadUnsafeAllowlist(filepath.Join(opts.PlatformRoot, UnsafeAllowlistPath), set); err != nil {
		return nil, err
	}
	if err := loadInlineBashAllowlist(filepath.Join(opts.PlatformRoot, InlineBashAllowlistPath), set); err != nil {
		return nil, err
	}
	if err := loadHighRiskTriggers(filepath.Join(opts.PlatformRoot, HighRiskAllowlistPath), set); err != nil {
		return nil, err
	}
	if err := loadPermissionsBaseline(filepath.Join(opts.PlatformRoot, PermissionsBaselinePath), set); err != nil {
		return nil, err
	}
	if err := loadArtifactPolicy(filepath.Join(opts.PlatformRoot, ArtifactPolicyPath), set); err != nil {
		return nil, err
	}

	if set.Rules.InlineRun.MaxInlineLines <= 0 {
		set.Rules.InlineRun.MaxInlineLines = defaultMaxInlineLines
	}
	if set.Baseline.DefaultUnspecified == "" {
		set.Baseline.DefaultUnspecified = defaultUnspecifiedLevel
	}

	return set, nil
}

// readPolicyFile reads one policy file and decodes it into out. The file
// must exist, be non-empty, and parse as a YAML object.
func readPolicyFile(path, label string, out any) error {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s config not found: %s", label, path)
		}
		return fmt.Errorf("could not read %s config %s: %w", label, path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%s config is empty: %s", label, path)
	}

	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%s config is not valid YAML (%s): %w", label, path, err)
	}
	if probe == nil {
		return fmt.Errorf("%s config is not a YAML object: %s", label, path)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s config has unexpected structure (%s): %w", label, path, err)
	}
	return nil
}

func loadRootConfig(path string, set *Set) error {
	var doc struct {
		Rules       *Rules `yaml:"rules"`
		Enforcement struct {
			ScoreFailThreshold *int `yaml:"score_fail_threshold"`
		} `yaml:"enforcement"`
	}
	if err := readPolicyFile(path, "validate-ci", &doc); err != nil {
		return err
	}
	if doc.Rules == nil {
		return fmt.Errorf("validate-ci config %s is missing required key 'rules'", path)
	}
	set.Rules = *doc.Rules
	if doc.Enforcement.ScoreFailThreshold != nil {
		set.ScoreFailThreshold = Threshold{Set: true, Value: *doc.Enforcement.ScoreFailThreshold}
	}
	return nil
}

func loadActionsAllowlist(path string, set *Set) error {
	var doc struct {
		Allowlist []struct {
			Repo    string `yaml:"repo"`
			Allowed *bool  `yaml:"allowed"`
		} `yaml:"allowlist"`
	}
	if err := readPolicyFile(path, "actions allowlist", &doc); err != nil {
		return err
	}
	if doc.Allowlist == nil {
		return fmt.Errorf("actions allowlist config %s is missing required key 'allowlist'", path)
	}

	set.AllowedActions = make(map[string]bool, len(doc.Allowlist))
	for _, entry := range doc.Allowlist {
		if entry.Repo == "" {
			return fmt.Errorf("actions allowlist config %s has an entry without 'repo'", path)
		}
		if entry.Allowed == nil || *entry.Allowed {
			set.AllowedActions[entry.Repo] = true
		}
	}
	return nil
}

func loadUnsafePatterns(path string, set *Set) error {
	var doc struct {
		Patterns []UnsafePattern `yaml:"patterns"`
	}
	if err := readPolicyFile(path, "unsafe patterns", &doc); err != nil {
		return err
	}
	if doc.Patterns == nil {
		return fmt.Errorf("unsafe patterns config %s is missing required key 'patterns'", path)
	}
	for i, p := range doc.Patterns {
		if p.ID == "" {
			return fmt.Errorf("unsafe patterns config %s: pattern %d has no id", path, i)
		}
	}
	set.UnsafePatterns = doc.Patterns
	return nil
}

func loadUnsafeAllowlist(path string, set *Set) error {
	var doc struct {
		Allowlist []SelectorEntry `yaml:"allowlist"`
	}
	if err := readPolicyFile(path, "unsafe patterns allowlist", &doc); err != nil {
		return err
	}
	if doc.Allowlist == nil {
		return fmt.Errorf("unsafe patterns allowlist config %s is missing required key 'allowlist'", path)
	}
	set.UnsafeAllowlist = doc.Allowlist
	return nil
}

func loadInlineBashAllowlist(path string, set *Set) error {
	var doc struct {
		Allowlist   []SelectorEntry `yaml:"allowlist"`
		Constraints struct {
			Global struct {
				Forbid struct {
					RunRegex []string `yaml:"run_regex"`
				} `yaml:"forbid"`
				Require struct {
					RunContainsAll []string `yaml:"run_contains_all"`
				} `yaml:"require"`
			} `yaml:"global"`
			Forbid struct {
				RunRegex []string `yaml:"run_regex"`
			} `yaml:"forbid"`
			Require struct {
				RunContainsAll []string `yaml:"run_contains_all"`
			} `yaml:"require"`
		} `yaml:"constraints"`
	}
	if err := readPolicyFile(path, "inline bash allowlist", &doc); err != nil {
		return err
	}
	if doc.Allowlist == nil {
		return fmt.Errorf("inline bash allowlist config %s is missing required key 'allowlist'", path)
	}
	set.InlineAllowlist = doc.Allowlist

	// Constraints may sit at constraints.* or under constraints.global.*;
	// both forms appear in platform configs.
	set.InlineConstraints = InlineConstraints{
		ForbidRegex: append(
			doc.Constraints.Forbid.RunRegex,
			doc.Constraints.Global.Forbid.RunRegex...),
		RequireContains: append(
			doc.Constraints.Require.RunContainsAll,
			doc.Constraints.Global.Require.RunContainsAll...),
	}
	return nil
}

func loadHighRiskTriggers(path string, set *Set) error {
	var doc struct {
		HighRiskTriggers []string `yaml:"high_risk_triggers"`
		Allowlist        []struct {
			Workflow string `yaml:"workflow"`
			Trigger  string `yaml:"trigger"`
		} `yaml:"allowlist"`
	}
	if err := readPolicyFile(path, "high-risk triggers", &doc); err != nil {
		return err
	}
	if doc.HighRiskTriggers == nil {
		return fmt.Errorf("high-risk triggers config %s is missing required key 'high_risk_triggers'", path)
	}

	triggers := make(map[string]bool, len(doc.HighRiskTriggers))
	for _, t := range doc.HighRiskTriggers {
		triggers[t] = true
	}
	allow := make(map[string]map[string]bool)
	for _, entry := range doc.Allowlist {
		if entry.Workflow == "" || entry.Trigger == "" {
			return fmt.Errorf("high-risk triggers config %s has an allowlist entry without workflow or trigger", path)
		}
		if allow[entry.Workflow] == nil {
			allow[entry.Workflow] = make(map[string]bool)
		}
		allow[entry.Workflow][entry.Trigger] = true
	}
	set.HighRiskTriggers = HighRiskTriggers{Triggers: triggers, Allowlist: allow}
	return nil
}

func loadPermissionsBaseline(path string, set *Set) error {
	var doc struct {
		Defaults struct {
			Unspecified string `yaml:"unspecified"`
		} `yaml:"defaults"`
		Policy struct {
			Unspecified string `yaml:"unspecified"`
		} `yaml:"policy"`
		Workflows map[string]map[string]string `yaml:"workflows"`
	}
	if err := readPolicyFile(path, "permissions baseline", &doc); err != nil {
		return err
	}
	if doc.Workflows == nil {
		return fmt.Errorf("permissions baseline config %s is missing required key 'workflows'", path)
	}

	// defaults: is the documented container; policy: is accepted for
	// compatibility with older platform layouts.
	unspecified := doc.Defaults.Unspecified
	if unspecified == "" {
		unspecified = doc.Policy.Unspecified
	}
	set.Baseline = PermissionsBaseline{
		DefaultUnspecified: unspecified,
		Workflows:          doc.Workflows,
	}
	return nil
}

func loadArtifactPolicy(path string, set *Set) error {
	var doc struct {
		RequiredPaths []string `yaml:"required_paths"`
		Policy        struct {
			RequiredPaths []string `yaml:"required_paths"`
		} `yaml:"policy"`
		Allowlist map[string][]struct {
			Name string `yaml:"name"`
		} `yaml:"allowlist"`
	}
	if err := readPolicyFile(path, "artifact policy", &doc); err != nil {
		return err
	}

	required := doc.RequiredPaths
	if required == nil {
		required = doc.Policy.RequiredPaths
	}
	if required == nil {
		return fmt.Errorf("artifact policy config %s is missing required key 'required_paths'", path)
	}

	allow := make(map[string]map[string]bool, len(doc.Allowlist))
	for wf, names := range doc.Allowlist {
		allow[wf] = make(map[string]bool, len(names))
		for _, n := range names {
			if n.Name != "" {
				allow[wf][n.Name] = true
			}
		}
	}
	set.Artifacts = ArtifactPolicy{RequiredPaths: required, Allowlist: allow}
	return nil
}
