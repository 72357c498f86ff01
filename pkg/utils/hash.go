package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// HashString returns a stable hex digest of the input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", sum)
}

// QueryKey builds a stable cache key from query parts, insensitive to
// case and surrounding whitespace.
func QueryKey(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, p := range parts {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(p)))
	}
	return HashString(strings.Join(normalized, "|"))
}
