// Package strings holds small string helpers shared across the grant pipeline.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and blanks, trimming each element. Order
// is preserved.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// SplitScope parses an RFC 6749 scope parameter: space-delimited,
// case-sensitive tokens. Duplicates are dropped.
func SplitScope(raw string) []string {
	return DedupeAndTrim(strings.Fields(raw))
}

// JoinScope is the inverse of SplitScope.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
