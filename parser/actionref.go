// SPDX-License-Identifier: MIT

package parser

import (
	"strings"
)

// SHALength is the standard length of a Git SHA-1 hash.
const SHALength = 40

// ActionRef holds the parsed components of a `uses:` reference.
type ActionRef struct {
	Action string // owner/repo[/subpath], or the raw path for local/docker refs
	Ref    string // Tag, branch, SHA, or docker tag/digest after the separator
}

// IsLocal reports whether the reference points into the repository itself.
func (a ActionRef) IsLocal() bool {
	return strings.HasPrefix(a.Action, "./") || strings.HasPrefix(a.Action, ".github/")
}

// IsDocker reports whether the reference is a container image.
func (a ActionRef) IsDocker() bool {
	return strings.HasPrefix(a.Action, "docker://")
}

// OwnerRepo projects the action down to its first two path segments. Action
// allow-listing and remote verification operate on this projection, never on
// the subpath.
func (a ActionRef) OwnerRepo() string {
	parts := strings.Split(a.Action, "/")
	if len(parts) < 2 {
		return a.Action
	}
	return parts[0] + "/" + parts[1]
}

// ParseActionRef splits a raw `uses:` value at the first @ into action and
// ref. Local references keep their full head in Action. Docker references
// split at the first @ when one is present, otherwise at the last colon of
// the image, so `docker://alpine:3` yields ref "3" and
// `docker://img@sha256:…` yields the digest.
//
// -uses: The raw action reference string (e.g., "actions/checkout@v4").
// Returns: The parsed reference. Parsing never fails; a ref-less value has
// an empty Ref.
func ParseActionRef(uses string) ActionRef {
	uses = strings.TrimSpace(uses)

	if strings.HasPrefix(uses, "docker://") {
		if at := strings.Index(uses, "@"); at >= 0 {
			return ActionRef{Action: uses[:at], Ref: uses[at+1:]}
		}
		image := strings.TrimPrefix(uses, "docker://")
		if colon := strings.LastIndex(image, ":"); colon >= 0 {
			return ActionRef{Action: "docker://" + image[:colon], Ref: image[colon+1:]}
		}
		return ActionRef{Action: uses}
	}

	parts := strings.SplitN(uses, "@", 2)
	ref := ActionRef{Action: parts[0]}
	if len(parts) == 2 {
		ref.Ref = parts[1]
	}
	return ref
}

// IsSHAShaped reports whether ref is exactly forty lowercase hex characters.
func IsSHAShaped(ref string) bool {
	if len(ref) != SHALength {
		return false
	}
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsActionUpload reports whether a `uses:` value is an artifact upload step:
// the platform's own upload action or any version of
// actions/upload-artifact.
func IsActionUpload(uses string) bool {
	uses = strings.TrimSpace(uses)
	if uses == "./.github/actions/ps-upload-artifacts" {
		return true
	}
	return strings.HasPrefix(uses, "actions/upload-artifact@")
}

// ExtractUploadPaths returns the `path:` values declared in a step's
// `with:` block. Block-scalar path lists expand to one entry per non-blank
// line.
//
// -step: The parsed step to inspect.
// Returns: The declared upload paths in source order, nil when none.
func ExtractUploadPaths(step *Step) []string {
	if step == nil {
		return nil
	}
	wv, ok := step.With["path"]
	if !ok {
		return nil
	}

	var paths []string
	for _, line := range strings.Split(wv.Value, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	return paths
}
