package models

import (
	"regexp"
	"strings"
)

var multiSlash = regexp.MustCompile(`/{2,}`)

// SanitizeRelativePath normalizes a generated file path: backslashes become
// forward slashes, leading slashes are dropped, ".." segments are removed,
// repeated slashes collapse, and a trailing slash is stripped. The result is
// a stable relative path or "" when nothing usable remains. The function is
// idempotent.
func SanitizeRelativePath(path string) string {
	normalized := strings.TrimSpace(strings.ReplaceAll(path, "\\", "/"))
	normalized = strings.TrimLeft(normalized, "/")
	normalized = multiSlash.ReplaceAllString(normalized, "/")

	parts := strings.Split(normalized, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	normalized = strings.Join(kept, "/")
	return strings.TrimSuffix(normalized, "/")
}
