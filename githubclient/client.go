// SPDX-License-Identifier: MIT

package githubclient

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/esacteksab/httpcache"
	"github.com/esacteksab/httpcache/diskcache"

	"github.com/PoliticalSphere/validate-ci/utils"
)

// SHALength is the standard length of a Git SHA-1 hash.
const SHALength = 40

// appCacheDirName is the subdirectory under the user cache dir holding
// cached GitHub responses.
const appCacheDirName = "validate-ci"

// isHexDigit checks if a byte is a valid lowercase hexadecimal digit.
func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f')
}

// IsHexString checks if a string consists entirely of lowercase hex digits.
func IsHexString(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

// IsSHA reports whether ref is exactly forty lowercase hex characters.
func IsSHA(ref string) bool {
	return len(ref) == SHALength && IsHexString(ref)
}

// CacheDir returns the on-disk HTTP cache location.
func CacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}
	return filepath.Join(userCacheDir, appCacheDirName), nil
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	// Token is attached as a bearer only when CIMode is set; local runs
	// stay unauthenticated so a developer token never leaks into cached
	// responses.
	Token  string
	CIMode bool
}

// NewClient initializes a GitHub API client with a disk-backed HTTP cache.
// The cache keeps repeated runs deterministic and cheap; authentication is
// layered on top of it so authenticated responses are cached too.
//
// -opts: Token and mode selection.
// Returns: An initialized *github.Client and an error if cache setup fails.
func NewClient(opts ClientOptions) (*github.Client, error) {
	cachePath, err := CacheDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cachePath, 0o750); err != nil { //nolint:mnd
		return nil, fmt.Errorf("could not create cache directory '%s': %w", cachePath, err)
	}

	cache := diskcache.New(cachePath)
	cacheTransport := httpcache.NewTransport(cache)

	var httpClient *http.Client
	if opts.CIMode && opts.Token != "" {
		utils.Logger.Debug("Using token authentication for GitHub API")
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		authTransport := &oauth2.Transport{
			Base:   cacheTransport,
			Source: oauth2.ReuseTokenSource(nil, ts),
		}
		httpClient = &http.Client{Transport: authTransport}
	} else {
		utils.Logger.Debug("Using unauthenticated GitHub API access (lower rate limit)")
		httpClient = &http.Client{Transport: cacheTransport}
	}

	return github.NewClient(httpClient), nil
}
