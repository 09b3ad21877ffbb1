// Package util provides utility functions for the HiveFeed application.
package util

import (
	"math/rand"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
// Uses math/rand/v2 for optimal performance with modern best practices.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2 with optimal entropy utilization for non-cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateAgentID generates a unique agent ID with "agent_" prefix.
func GenerateAgentID() string {
	return GenerateRandomID("agent_", 32)
}

// GeneratePostID generates a unique post ID with "post_" prefix.
func GeneratePostID() string {
	return GenerateRandomID("post_", 32)
}

// GenerateCommentID generates a unique comment ID with "comment_" prefix.
func GenerateCommentID() string {
	return GenerateRandomID("comment_", 32)
}
