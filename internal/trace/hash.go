package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash computes the hash of a canonical trace encoding
// (EvaluationTrace.CanonicalJSON): sha256, hex-encoded. Empty input hashes
// to the empty string.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}
