// SPDX-License-Identifier: MIT

package checks

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoliticalSphere/validate-ci/githubclient"
	"github.com/PoliticalSphere/validate-ci/parser"
	"github.com/PoliticalSphere/validate-ci/policy"
)

const (
	hardenSHA   = "cb605e52c26070c328afc4bebbdfe370032a1f2c"
	checkoutSHA = "8f4b7f84864484a7bf31766abe9204da3cbe65b3"
)

// fakeVerifier satisfies ReferenceVerifier from a seeded SHA set, or a
// forced result for failure-mode scenarios.
type fakeVerifier struct {
	forced *githubclient.VerifyResult
	shas   map[string]bool // "owner/repo@sha"
}

func (f *fakeVerifier) Verify(_ context.Context, action, ref string) githubclient.VerifyResult {
	if f.forced != nil {
		return *f.forced
	}
	parts := strings.Split(action, "/")
	ownerRepo := action
	if len(parts) >= 2 {
		ownerRepo = parts[0] + "/" + parts[1]
	}
	if f.shas[ownerRepo+"@"+ref] {
		return githubclient.VerifyResult{OK: true}
	}
	return githubclient.VerifyResult{OK: false, Reason: githubclient.ReasonRefNotFound}
}

func testPolicies() *policy.Set {
	set := &policy.Set{
		AllowedActions: map[string]bool{
			"actions/checkout":            true,
			"actions/upload-artifact":     true,
			"step-security/harden-runner": true,
		},
		Baseline: policy.PermissionsBaseline{
			DefaultUnspecified: "none",
			Workflows: map[string]map[string]string{
				"ci": {"contents": "read"},
			},
		},
		HighRiskTriggers: policy.HighRiskTriggers{
			Triggers:  map[string]bool{"pull_request_target": true},
			Allowlist: map[string]map[string]bool{},
		},
		Artifacts: policy.ArtifactPolicy{Allowlist: map[string]map[string]bool{}},
	}
	set.Rules.InlineRun.MaxInlineLines = 20
	return set
}

func checkYAML(t *testing.T, set *policy.Set, verifier ReferenceVerifier, relPath, doc string) []Violation {
	t.Helper()
	engine := NewEngine(t.TempDir(), set, verifier)
	wf := parser.Parse(relPath, []byte(doc))
	return engine.CheckWorkflow(context.Background(), wf, relPath)
}

func messages(violations []Violation) []string {
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = v.Message
	}
	return out
}

func totalWeight(violations []Violation) int {
	n := 0
	for _, v := range violations {
		n += v.Weight
	}
	return n
}

func TestScenarioCleanPass(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Checkout
        uses: actions/checkout@` + checkoutSHA + `
`
	verifier := &fakeVerifier{shas: map[string]bool{
		"step-security/harden-runner@" + hardenSHA: true,
		"actions/checkout@" + checkoutSHA:          true,
	}}

	violations := checkYAML(t, testPolicies(), verifier, ".github/workflows/ci.yml", doc)
	assert.Empty(t, violations)
}

func TestScenarioMissingPermissionsAndUnpinnedRef(t *testing.T) {
	doc := `on: push
jobs:
  deploy:
    steps:
      - name: Checkout
        uses: actions/checkout@v4
`
	violations := checkYAML(t, testPolicies(), nil, ".github/workflows/deploy.yml", doc)

	msgs := messages(violations)
	assert.Contains(t, msgs, "no permissions baseline for workflow 'deploy'")
	assert.Contains(t, msgs, "missing top-level permissions")
	assert.Contains(t, msgs, "job 'deploy' missing permissions")
	assert.Contains(t, msgs, "first step must be hardened runner")
	assert.Contains(t, msgs, "action 'actions/checkout' not SHA-pinned")
	assert.Len(t, violations, 5)
	assert.Equal(t, 12, totalWeight(violations))
}

func TestScenarioMissingPermissionViolationsAtLineOne(t *testing.T) {
	doc := "on: push\njobs:\n  deploy:\n    permissions:\n      contents: read\n"
	violations := checkYAML(t, testPolicies(), nil, ".github/workflows/deploy.yml", doc)

	require.Len(t, violations, 2)
	for _, v := range violations {
		assert.Equal(t, 1, v.Line)
		assert.Equal(t, 1, v.Column)
		assert.Equal(t, 3, v.Weight)
	}
}

func TestScenarioUnsafePatternSuppressed(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Fetch installer
        run: |
          set -euo pipefail
          curl https://example.sh | bash
`
	set := testPolicies()
	set.Baseline.Workflows["ci"] = map[string]string{"contents": "read"}
	set.UnsafePatterns = []policy.UnsafePattern{
		{ID: "curl-pipe-sh", RunRegex: []string{`curl .* \| (ba)?sh`}},
	}

	violations := checkYAML(t, set, nil, ".github/workflows/ci.yml", doc)
	assert.Contains(t, messages(violations), "unsafe pattern curl-pipe-sh")
	for _, v := range violations {
		if v.Message == "unsafe pattern curl-pipe-sh" {
			assert.Equal(t, 3, v.Weight)
		}
	}

	set.UnsafeAllowlist = []policy.SelectorEntry{{
		ID:     "EXC-1",
		Status: "active",
		Selector: policy.Selector{
			WorkflowPath: ".github/workflows/ci.yml",
			JobID:        "build",
			StepName:     "Fetch installer",
		},
	}}
	violations = checkYAML(t, set, nil, ".github/workflows/ci.yml", doc)
	assert.NotContains(t, messages(violations), "unsafe pattern curl-pipe-sh")
}

func TestScenarioRemoteUnreachable(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
`
	strict := &fakeVerifier{forced: &githubclient.VerifyResult{
		OK: false, Reason: githubclient.ReasonAPIUnreachable,
	}}
	violations := checkYAML(t, testPolicies(), strict, ".github/workflows/ci.yml", doc)
	require.Len(t, violations, 1)
	assert.Equal(t, "action ref could not be verified (GitHub API unreachable)", violations[0].Message)
	assert.Equal(t, 2, violations[0].Weight)

	local := &fakeVerifier{forced: &githubclient.VerifyResult{
		OK: true, Reason: githubclient.ReasonAPIUnreachableLocalSkip,
	}}
	violations = checkYAML(t, testPolicies(), local, ".github/workflows/ci.yml", doc)
	assert.Empty(t, violations)
}

func TestScenarioAllowlistedInlineScriptWithConstraints(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 38; i++ {
		body.WriteString("          some_command_line_" + strings.Repeat("x", i%3) + "\n")
	}

	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Long soak script
        id: long-script
        run: |
          echo "${{ secrets.TOKEN }}"
` + body.String()

	set := testPolicies()
	set.InlineAllowlist = []policy.SelectorEntry{{
		ID:       "LONG-1",
		Selector: policy.Selector{StepID: "long-script"},
	}}
	set.InlineConstraints = policy.InlineConstraints{
		RequireContains: []string{"set -euo pipefail"},
	}

	violations := checkYAML(t, testPolicies(), nil, ".github/workflows/ci.yml", doc)
	assert.Contains(t, messages(violations), "inline bash too long (39 lines, max 20)",
		"without the allowlist the size rule applies")

	violations = checkYAML(t, set, nil, ".github/workflows/ci.yml", doc)
	msgs := messages(violations)
	assert.Contains(t, msgs, "missing required content: set -euo pipefail")
	assert.Contains(t, msgs, "secrets interpolated in run")
	assert.Contains(t, msgs, "echo/printf used alongside secrets")
	assert.NotContains(t, msgs, "inline bash too long (39 lines, max 20)")
	assert.NotContains(t, msgs, "run missing 'set -euo pipefail'")
}

func TestHighRiskTriggerAllowlisting(t *testing.T) {
	doc := `on:
  pull_request_target:
permissions:
  contents: read
jobs:
  label:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
`
	set := testPolicies()
	violations := checkYAML(t, set, nil, ".github/workflows/labeler.yml", doc)
	assert.Contains(t, messages(violations), "high-risk trigger 'pull_request_target' not allowlisted")

	set.HighRiskTriggers.Allowlist = map[string]map[string]bool{
		".github/workflows/labeler.yml": {"pull_request_target": true},
	}
	violations = checkYAML(t, set, nil, ".github/workflows/labeler.yml", doc)
	assert.NotContains(t, messages(violations), "high-risk trigger 'pull_request_target' not allowlisted")
}

func TestElevatedPermissions(t *testing.T) {
	doc := `on: push
permissions:
  contents: write
  packages: admin
  id-token: write # OIDC justification: token exchange
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
`
	set := testPolicies()
	set.Baseline.Workflows["ci"] = map[string]string{"contents": "read", "id-token": "read"}

	violations := checkYAML(t, set, nil, ".github/workflows/ci.yml", doc)
	msgs := messages(violations)
	assert.Contains(t, msgs, "permissions 'contents' elevated without justification")
	assert.Contains(t, msgs, "permissions 'packages' elevated without justification",
		"unknown level compares above write")
	assert.NotContains(t, msgs, "permissions 'id-token' elevated without justification",
		"justification comment suppresses the finding")
}

func TestHardenedRunnerAfterCheckout(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Checkout
        uses: actions/checkout@` + checkoutSHA + `
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
`
	violations := checkYAML(t, testPolicies(), nil, ".github/workflows/ci.yml", doc)
	assert.NotContains(t, messages(violations), "first step must be hardened runner")
}

func TestHardenedRunnerConfiguredPrefix(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Bootstrap
        uses: platform/bootstrap-runner@` + hardenSHA + `
`
	set := testPolicies()
	set.AllowedActions["platform/bootstrap-runner"] = true
	set.Rules.RunnerHardening.AllowedFirstSteps = []string{"platform/bootstrap-runner@"}

	violations := checkYAML(t, set, nil, ".github/workflows/ci.yml", doc)
	assert.NotContains(t, messages(violations), "first step must be hardened runner")
}

func TestDockerDigestPinning(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Container step
        uses: docker://alpine:3
`
	violations := checkYAML(t, testPolicies(), nil, ".github/workflows/ci.yml", doc)

	var dockerFindings []Violation
	for _, v := range violations {
		if strings.Contains(v.Message, "docker") {
			dockerFindings = append(dockerFindings, v)
		}
	}
	require.Len(t, dockerFindings, 1)
	assert.Equal(t, 2, dockerFindings[0].Weight)
	// Docker steps, pinned or not, are exempt from the other reference rules.
	assert.NotContains(t, messages(violations), "action 'docker://alpine' not in allowlist")

	pinned := strings.Replace(doc, "docker://alpine:3",
		"docker://alpine@sha256:4bcff63911fcb4448bd4fdacec207030997caf25e9bea4045fa6c8c44de311d1", 1)
	violations = checkYAML(t, testPolicies(), nil, ".github/workflows/ci.yml", pinned)
	for _, v := range violations {
		assert.NotContains(t, v.Message, "docker")
	}
}

func TestRefNotFoundUpstream(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
`
	verifier := &fakeVerifier{shas: map[string]bool{}} // nothing known upstream
	violations := checkYAML(t, testPolicies(), verifier, ".github/workflows/ci.yml", doc)
	require.Len(t, violations, 1)
	assert.Equal(t, "action 'step-security/harden-runner' ref not found upstream", violations[0].Message)
	assert.Equal(t, 3, violations[0].Weight)
}

func TestUnsafeUsesMatcher(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Cache everything
        uses: actions/cache@` + checkoutSHA + `
        with:
          path: "/"
`
	set := testPolicies()
	set.AllowedActions["actions/cache"] = true
	set.UnsafePatterns = []policy.UnsafePattern{
		{ID: "cache-root", Uses: "actions/cache", With: map[string]string{"path": "/"}},
	}

	violations := checkYAML(t, set, nil, ".github/workflows/ci.yml", doc)
	assert.Contains(t, messages(violations), "unsafe pattern cache-root",
		"with-values compare after stripping double quotes")
}

func TestUnsafeInvalidRegexIsAViolation(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Script
        run: echo hello
`
	set := testPolicies()
	set.UnsafePatterns = []policy.UnsafePattern{
		{ID: "bad-regex", RunRegex: []string{`(x+)+y`}},
	}

	violations := checkYAML(t, set, nil, ".github/workflows/ci.yml", doc)
	found := false
	for _, v := range violations {
		if strings.HasPrefix(v.Message, "unsafe pattern bad-regex has invalid regex") {
			found = true
			assert.Equal(t, 3, v.Weight)
		}
	}
	assert.True(t, found)
}

func TestSecretsInWithValues(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Deploy
        uses: actions/checkout@` + checkoutSHA + `
        with:
          token: ${{ secrets.DEPLOY_TOKEN }}
        run: echo start
`
	violations := checkYAML(t, testPolicies(), nil, ".github/workflows/ci.yml", doc)
	assert.Contains(t, messages(violations), "secrets interpolated in 'with' (token)")
}

func TestXtraceAlongsideSecrets(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Leaky
        run: |
          set -euo pipefail
          set -x
          deploy --token "${{ secrets.TOKEN }}"
`
	violations := checkYAML(t, testPolicies(), nil, ".github/workflows/ci.yml", doc)
	msgs := messages(violations)
	assert.Contains(t, msgs, "secrets interpolated in run")
	assert.Contains(t, msgs, "debug xtrace used alongside secrets")
}

func TestArtifactPolicy(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Upload
        uses: actions/upload-artifact@` + checkoutSHA + `
        with:
          name: surprise-artifact
          path: |
            reports/unit
`
	set := testPolicies()
	set.Artifacts = policy.ArtifactPolicy{
		RequiredPaths: []string{"reports/", "logs/"},
		Allowlist:     map[string]map[string]bool{"ci": {"unit-reports": true}},
	}

	violations := checkYAML(t, set, nil, ".github/workflows/ci.yml", doc)
	msgs := messages(violations)
	assert.Contains(t, msgs, "artifact 'surprise-artifact' not allowlisted for workflow 'ci'")
	assert.Contains(t, msgs, "required artifact path 'logs/' not declared")
	assert.NotContains(t, msgs, "required artifact path 'reports/' not declared")
}

func TestArtifactParametricPathSkipsRequired(t *testing.T) {
	doc := `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Upload
        uses: actions/upload-artifact@` + checkoutSHA + `
        with:
          name: unit-reports
          path: ${{ inputs.artifact_paths }}
`
	set := testPolicies()
	set.Artifacts = policy.ArtifactPolicy{
		RequiredPaths: []string{"reports/"},
		Allowlist:     map[string]map[string]bool{"ci": {"unit-reports": true}},
	}

	violations := checkYAML(t, set, nil, ".github/workflows/ci.yml", doc)
	for _, v := range violations {
		assert.NotContains(t, v.Message, "required artifact path")
	}
}

func TestViolationOrderingDeterministic(t *testing.T) {
	doc := `on: push
jobs:
  deploy:
    steps:
      - name: Checkout
        uses: actions/checkout@v4
`
	first := checkYAML(t, testPolicies(), nil, ".github/workflows/deploy.yml", doc)
	second := checkYAML(t, testPolicies(), nil, ".github/workflows/deploy.yml", doc)
	assert.Equal(t, first, second)

	// Top-level findings come before job and step findings.
	require.NotEmpty(t, first)
	assert.Equal(t, "no permissions baseline for workflow 'deploy'", first[0].Message)
}
