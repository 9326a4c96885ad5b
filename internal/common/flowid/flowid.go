package flowid

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxFlowIDLength is the maximum total length (same as UUID: 36 chars)
	MaxFlowIDLength = 36
	// PrefixLength is the length of the random prefix
	PrefixLength = 5
	// MaxCustomIDLength is the max length for the sanitized custom portion
	// 36 total - 5 prefix - 1 hyphen = 30
	MaxCustomIDLength = MaxFlowIDLength - PrefixLength - 1
)

var (
	sanitizeRegex           = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// Generate creates a unique flow ID from an optional custom name. A provided
// name is sanitized (keeping only [a-zA-Z0-9-]) and prefixed with 5 random
// characters so repeated runs of the same flow stay distinguishable in logs
// and in the registry. An empty or fully-sanitized-away name falls back to a
// plain UUID. Total length is capped at 36 characters.
func Generate(name string) string {
	sanitized := strings.ReplaceAll(name, " ", "-")
	sanitized = sanitizeRegex.ReplaceAllString(sanitized, "")
	sanitized = consecutiveHyphensRegex.ReplaceAllString(sanitized, "-")
	sanitized = strings.TrimPrefix(sanitized, "-")
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}

	if len(sanitized) > MaxCustomIDLength {
		sanitized = sanitized[:MaxCustomIDLength]
	}

	return randomPrefix() + "-" + sanitized
}

// randomPrefix creates a 5-character random hex string using crypto/rand
func randomPrefix() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return uuid.New().String()[:PrefixLength]
	}
	return hex.EncodeToString(bytes)[:PrefixLength]
}
