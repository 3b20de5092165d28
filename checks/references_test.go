// SPDX-License-Identifier: MIT

package checks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoliticalSphere/validate-ci/parser"
)

func TestLocalActionChecks(t *testing.T) {
	root := t.TempDir()
	actionDir := filepath.Join(root, ".github", "actions", "setup")
	require.NoError(t, os.MkdirAll(actionDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(actionDir, "action.yml"), []byte("name: setup\n"), 0o640))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts", "helper"), 0o750))

	engine := NewEngine(root, testPolicies(), nil)

	doc := func(uses string) string {
		return `on: push
permissions:
  contents: read
jobs:
  build:
    permissions:
      contents: read
    steps:
      - name: Harden
        uses: step-security/harden-runner@` + hardenSHA + `
      - name: Local
        uses: ` + uses + `
`
	}

	check := func(uses string) []string {
		wf := parser.Parse(".github/workflows/ci.yml", []byte(doc(uses)))
		return messages(engine.CheckWorkflow(context.Background(), wf, ".github/workflows/ci.yml"))
	}

	assert.Empty(t, check("./.github/actions/setup"))

	msgs := check("./scripts/helper")
	assert.Contains(t, msgs, "local action './scripts/helper' outside .github/actions/")
	assert.Contains(t, msgs, "local action './scripts/helper' missing action.yml")

	msgs = check("./.github/actions/missing")
	assert.Contains(t, msgs, "local action './.github/actions/missing' missing action.yml")

	msgs = check("./.github/actions/../../../escape")
	assert.Contains(t, msgs, "local action './.github/actions/../../../escape' path escapes repo")
}

func TestCheckActionFile(t *testing.T) {
	engine := NewEngine(t.TempDir(), testPolicies(), nil)

	data := []byte(`name: release helper
runs:
  using: composite
  steps:
    - uses: actions/checkout@` + checkoutSHA + `
    - uses: actions/setup-go@v5
    - uses: ./.github/actions/setup
    - uses: docker://alpine:3
    - run: echo done
      shell: bash
`)
	violations := engine.CheckActionFile(context.Background(), "tools/release/action.yml", data)
	msgs := messages(violations)

	assert.Contains(t, msgs, "action 'actions/setup-go' not in allowlist")
	assert.Contains(t, msgs, "action 'actions/setup-go' not SHA-pinned")
	assert.Contains(t, msgs, "docker action 'docker://alpine:3' not digest-pinned")
	for _, m := range msgs {
		assert.NotContains(t, m, "actions/checkout", "pinned allowlisted ref is clean")
		assert.NotContains(t, m, ".github/actions/setup", "local refs are skipped in composite scans")
	}
	for _, v := range violations {
		assert.Equal(t, "tools/release/action.yml", v.Path)
		assert.Greater(t, v.Line, 0)
	}
}
