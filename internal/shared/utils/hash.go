package utils

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes BLAKE2b-256 digests used as cache validators for rewritten
// pages and the loader script
type Hasher struct{}

// DefaultHasher returns the shared hasher
func DefaultHasher() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data
func (h *Hasher) Hash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex digest of s
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// ETag returns a strong entity tag for a response body
func (h *Hasher) ETag(body []byte) string {
	return `"` + h.Hash(body) + `"`
}

// ETagMatch reports whether an If-None-Match header value matches etag.
// Comparison is weak, as required for GET revalidation.
func ETagMatch(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}

	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}
