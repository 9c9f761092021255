package inventory

import "strings"

// SafeLinkTarget reports whether a symlink's target is lexically
// incapable of escaping the root being scanned. linkPath is the
// symlink's own path as recorded; target is the raw link text.
//
// The only accepted shape is a pure ascent followed by a pure
// descent: a leading run of ".." components that does not climb
// higher than the symlink's own depth, then a path free of "." and
// "..". Nothing is resolved against the filesystem, so the check is
// conservative and may reject unusual-but-safe targets.
func SafeLinkTarget(linkPath, target string) bool {
	wrapped := "/" + target + "/"

	// Any current-directory reference is rejected outright.
	if strings.Contains(wrapped, "/./") {
		return false
	}

	// Count the maximal leading run of ".." components.
	headDepth := 0
	rest := wrapped
	for strings.HasPrefix(rest, "/../") {
		headDepth++
		rest = rest[3:]
	}

	// Ascent must be purely at the front.
	if strings.Contains(rest, "/../") {
		return false
	}

	// The ascent may not climb above the symlink's own location.
	return headDepth <= strings.Count(linkPath, "/")
}
