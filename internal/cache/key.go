package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Normalize canonicalizes a prompt for cache keying: lowercased with runs
// of whitespace collapsed to single spaces. Two prompts that differ only in
// casing or spacing map to the same key.
func Normalize(prompt string) string {
	return strings.ToLower(strings.Join(strings.Fields(prompt), " "))
}

// Key computes the deterministic cache digest for a query. Answers are
// model-specific, so the model identifier is part of the digest; imageDigest
// is empty for text-only queries.
func Key(kind, prompt, imageDigest, model string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", kind, Normalize(prompt), imageDigest, model)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ImageDigest hashes raw image bytes for inclusion in a cache key.
func ImageDigest(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
