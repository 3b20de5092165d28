// SPDX-License-Identifier: MIT

// Package checks applies the policy rule families to parsed workflows and
// composite actions. All checks are additive: none short-circuits another,
// and a failure inside one rule becomes a violation for the offending
// construct while the scan continues.
package checks

import (
	"context"
	"regexp"
	"sync"

	"github.com/PoliticalSphere/validate-ci/githubclient"
	"github.com/PoliticalSphere/validate-ci/policy"
	"github.com/PoliticalSphere/validate-ci/saferegex"
)

// Violation is the output currency of the engine.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Weight  int    `json:"weight"`
}

// ReferenceVerifier is what the engine needs from the remote verifier. The
// concrete implementation lives in githubclient; tests substitute a seeded
// fake.
type ReferenceVerifier interface {
	Verify(ctx context.Context, action, ref string) githubclient.VerifyResult
}

// Engine evaluates one workflow or action file at a time. Per-file state is
// reset between calls; the compiled-regex cache and the verifier's repo
// cache persist for the process lifetime.
type Engine struct {
	workspaceRoot string
	policies      *policy.Set
	verifier      ReferenceVerifier

	mu       sync.Mutex
	regexes  map[string]*regexp.Regexp
	regexErr map[string]error
}

// NewEngine builds an engine over an immutable policy set.
//
// -workspaceRoot: Absolute path of the repository under validation.
// -policies: The loaded policy tables.
// -verifier: Remote SHA verifier; nil disables remote verification.
func NewEngine(workspaceRoot string, policies *policy.Set, verifier ReferenceVerifier) *Engine {
	return &Engine{
		workspaceRoot: workspaceRoot,
		policies:      policies,
		verifier:      verifier,
		regexes:       make(map[string]*regexp.Regexp),
		regexErr:      make(map[string]error),
	}
}

// compileCached compiles a pattern through the safety gate, memoizing both
// successes and rejections.
func (e *Engine) compileCached(pattern string) (*regexp.Regexp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.regexes[pattern]; ok {
		return re, nil
	}
	if err, ok := e.regexErr[pattern]; ok {
		return nil, err
	}
	re, err := saferegex.Compile(pattern)
	if err != nil {
		e.regexErr[pattern] = err
		return nil, err
	}
	e.regexes[pattern] = re
	return re, nil
}

// dedupe drops exact repeats while preserving order. The unsafe-pattern
// run matcher runs both in the per-step pass and inside the inline-run
// check; identical findings collapse to one.
func dedupe(violations []Violation) []Violation {
	seen := make(map[Violation]bool, len(violations))
	out := violations[:0]
	for _, v := range violations {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
