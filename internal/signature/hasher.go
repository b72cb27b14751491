// Package signature computes content-addressed signatures for the entities of
// an L1 output envelope.
package signature

import (
	"crypto/sha256"
	"encoding/hex"

	"evolver/internal/canonical"
)

// Digest is a signature: the lowercase hex sha256 of a canonical form.
//
// A Digest is a pure function of the semantic value it was computed from:
//   - Field order in the source document does not matter
//   - Newline style inside strings does not matter
//   - Keyword case and whitespace in SQL fragments do not matter
type Digest string

// Hasher turns values into digests of their canonical forms.
type Hasher struct {
	sql canonical.SQLCanonicalizer
}

// NewHasher creates a Hasher that upper-cases SQL keywords.
func NewHasher() *Hasher {
	return &Hasher{sql: canonical.SQLCanonicalizer{UppercaseKeywords: true}}
}

// Sum hashes already-canonical bytes.
func Sum(canonicalForm []byte) Digest {
	sum := sha256.Sum256(canonicalForm)
	return Digest(hex.EncodeToString(sum[:]))
}

// JSON hashes the canonical JSON encoding of v.
func (h *Hasher) JSON(v any) (Digest, error) {
	b, err := canonical.JSON(v)
	if err != nil {
		return "", err
	}
	return Sum(b), nil
}

// SQL hashes the canonical text of a WHERE-suffix fragment. The fragment is
// checked by the safety guard first.
func (h *Hasher) SQL(fragment string) (Digest, error) {
	s, err := h.sql.Canonicalize(fragment)
	if err != nil {
		return "", err
	}
	return Sum([]byte(s)), nil
}
