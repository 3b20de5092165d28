// SPDX-License-Identifier: MIT

package githubclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v80/github"

	"github.com/PoliticalSphere/validate-ci/utils"
)

// Failure reasons. The set is closed; the check engine maps each onto a
// violation weight.
const (
	ReasonRefNotFound             = "ref_not_found"
	ReasonAPIUnreachable          = "api_unreachable"
	ReasonAPIUnreachableLocalSkip = "api_unreachable_local_skip"
	ReasonUnauthorized            = "unauthorized"
	ReasonForbiddenOrRateLimited  = "forbidden_or_rate_limited"
	ReasonRateLimited             = "rate_limited"
	ReasonUnexpectedStatus        = "unexpected_status"
	ReasonInvalidActionRef        = "invalid_action_ref"
)

// Bypass reasons: verification was intentionally skipped and the result is
// OK.
const (
	BypassDisabled      = "verification_disabled"
	BypassLocalAction   = "local_action"
	BypassNonSHARef     = "non_sha_ref"
	BypassMissingInputs = "missing_inputs"
)

// refFetchTimeout bounds a single upstream refs sweep.
const refFetchTimeout = 10 * time.Second

// VerifyResult is the outcome of one (action, ref) query.
type VerifyResult struct {
	OK     bool
	Reason string // empty when the SHA was verified upstream
}

// Verifier confirms that pinned commit SHAs exist upstream. It holds the
// only process-wide mutable state of a run: a per-repo SHA set populated by
// at most one refs sweep per repository, and the set of repos whose
// unreachability has already been logged.
type Verifier struct {
	client  *github.Client
	enabled bool
	strict  bool // CI mode: unreachable network is a hard failure

	mu     sync.Mutex
	repos  map[string]*repoRefs
	logged map[string]bool

	// fetch is swapped in tests to avoid the network.
	fetch func(ctx context.Context, owner, repo string) (map[string]bool, error)
}

type repoRefs struct {
	once sync.Once
	shas map[string]bool
	err  error
}

// VerifierOptions configures NewVerifier.
type VerifierOptions struct {
	Enabled bool
	Strict  bool
}

// NewVerifier builds a verifier around an initialized client. A nil client
// with verification enabled degrades every SHA-pinned query on a well-formed
// owner/repo to a bypass; malformed actions still report invalid_action_ref.
func NewVerifier(client *github.Client, opts VerifierOptions) *Verifier {
	v := &Verifier{
		client:  client,
		enabled: opts.Enabled,
		strict:  opts.Strict,
		repos:   make(map[string]*repoRefs),
		logged:  make(map[string]bool),
	}
	v.fetch = v.fetchRepoRefs
	return v
}

// Verify checks whether the given SHA exists in the upstream repository.
// Errors never escape as Go errors; every outcome is a VerifyResult whose
// Reason the caller maps to a violation or drops.
//
// -ctx: Context for the (at most one) upstream call.
// -action: The action reference, owner/repo with optional subpath and @ref.
// -ref: The ref after @, expected to be SHA-shaped for verification.
// Returns: The query outcome; see the Reason constants.
func (v *Verifier) Verify(ctx context.Context, action, ref string) VerifyResult {
	if !v.enabled {
		return VerifyResult{OK: true, Reason: BypassDisabled}
	}
	if strings.HasPrefix(action, "./") || strings.HasPrefix(action, ".github/") {
		return VerifyResult{OK: true, Reason: BypassLocalAction}
	}

	ownerRepo := normalizeAction(action)
	parts := strings.Split(ownerRepo, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return VerifyResult{OK: false, Reason: ReasonInvalidActionRef}
	}
	if !IsSHA(ref) {
		return VerifyResult{OK: true, Reason: BypassNonSHARef}
	}
	if v.client == nil {
		return VerifyResult{OK: true, Reason: BypassMissingInputs}
	}

	entry := v.repoEntry(ownerRepo)
	entry.once.Do(func() {
		entry.shas, entry.err = v.fetch(ctx, parts[0], parts[1])
	})

	if entry.err != nil {
		reason := classifyFetchError(entry.err)
		if reason == ReasonAPIUnreachable && !v.strict {
			v.logUnreachableOnce(ownerRepo)
			return VerifyResult{OK: true, Reason: ReasonAPIUnreachableLocalSkip}
		}
		return VerifyResult{OK: false, Reason: reason}
	}

	if entry.shas[ref] {
		return VerifyResult{OK: true}
	}
	return VerifyResult{OK: false, Reason: ReasonRefNotFound}
}

// repoEntry is the guarded compute-if-absent over the per-repo cache. A
// race on first touch produces at most one upstream call because the fetch
// itself runs under the entry's Once.
func (v *Verifier) repoEntry(ownerRepo string) *repoRefs {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.repos[ownerRepo]
	if !ok {
		entry = &repoRefs{}
		v.repos[ownerRepo] = entry
	}
	return entry
}

// logUnreachableOnce emits the single informational local-skip line per
// repo. The line never carries auth material.
func (v *Verifier) logUnreachableOnce(ownerRepo string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.logged[ownerRepo] {
		return
	}
	v.logged[ownerRepo] = true
	utils.Logger.Infof("GitHub unreachable; skipping SHA verification for %s (local mode)", ownerRepo)
}

// fetchRepoRefs sweeps every ref of the repository once and returns the set
// of object SHAs.
func (v *Verifier) fetchRepoRefs(ctx context.Context, owner, repo string) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, refFetchTimeout)
	defer cancel()

	shas := make(map[string]bool)
	opts := &github.ReferenceListOptions{
		ListOptions: github.ListOptions{PerPage: 100}, //nolint:mnd
	}
	for {
		refs, resp, err := v.client.Git.ListMatchingRefs(ctx, owner, repo, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			if r.Object != nil && r.Object.SHA != nil {
				shas[*r.Object.SHA] = true
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return shas, nil
}

// classifyFetchError maps a fetch error onto the closed reason set.
func classifyFetchError(err error) string {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return ReasonRateLimited
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return ReasonRateLimited
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return ReasonUnauthorized
		case http.StatusForbidden:
			return ReasonForbiddenOrRateLimited
		case http.StatusNotFound:
			// A ref cannot exist in a repository that does not.
			return ReasonRefNotFound
		default:
			return ReasonUnexpectedStatus
		}
	}
	return ReasonAPIUnreachable
}

// normalizeAction strips a trailing @ref and any subpath beyond owner/repo.
func normalizeAction(action string) string {
	if at := strings.Index(action, "@"); at >= 0 {
		action = action[:at]
	}
	parts := strings.Split(action, "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "/")
}

// CheckRateLimit logs the core rate limit once at debug level. Useful when
// diagnosing rate-limited CI runs.
func CheckRateLimit(ctx context.Context, client *github.Client) {
	if client == nil {
		return
	}
	limits, _, err := client.RateLimit.Get(ctx)
	if err != nil {
		utils.Logger.Debugf("Could not retrieve rate limits: %v", err)
		return
	}
	if limits != nil && limits.Core != nil {
		utils.Logger.Debugf(
			"Rate limit: %d/%d remaining, resets %s",
			limits.Core.Remaining,
			limits.Core.Limit,
			limits.Core.Reset.Time.Local().Format("15:04:05 MST"),
		)
	}
}
