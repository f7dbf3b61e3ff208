// Package merkle implements the batching tree behind the audit trail.
//
// Leaves are 32-byte event fingerprints. Adjacent leaves are combined with
// Keccak-256 over the value-ordered concatenation of the pair, so a verifier
// never needs to know whether a sibling sat on the left or the right. When a
// level holds an odd number of nodes the trailing node is carried up unchanged
// and contributes no step to any proof at that level.
package merkle

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// DigestSize is the byte length of every fingerprint, node and root.
const DigestSize = 32

// Digest is a 32-byte hash value. Its canonical text form is "0x" followed by
// 64 lowercase hex characters.
type Digest [DigestSize]byte

// ParseDigest decodes the canonical text form. The "0x" prefix is optional;
// anything that is not exactly 64 hex characters after the prefix is rejected.
// Short input is never padded.
func ParseDigest(s string) (Digest, error) {
	var d Digest

	raw := strings.TrimPrefix(s, "0x")
	if len(raw) != DigestSize*2 {
		return d, fmt.Errorf("merkle: digest must be %d hex characters, got %d", DigestSize*2, len(raw))
	}

	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return d, fmt.Errorf("merkle: invalid digest %q: %w", s, err)
	}

	copy(d[:], decoded)
	return d, nil
}

// DigestFromBytes copies a raw 32-byte slice into a Digest.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("merkle: digest must be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// String returns the canonical "0x"-prefixed lowercase hex form.
func (d Digest) String() string {
	return "0x" + hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is all zero bytes.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler so digests serialize to their
// canonical form in JSON documents.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Fingerprint hashes an arbitrary event payload into a leaf digest.
// Producers that already hold a digest skip this and call ParseDigest.
func Fingerprint(data []byte) Digest {
	var d Digest
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(d[:0])
	return d
}

// PairHash combines two nodes into their parent. The smaller value by raw
// byte comparison is hashed first, which makes verification independent of
// sibling position.
func PairHash(a, b Digest) Digest {
	if bytes.Compare(b[:], a[:]) < 0 {
		a, b = b, a
	}

	var d Digest
	h := sha3.NewLegacyKeccak256()
	h.Write(a[:])
	h.Write(b[:])
	h.Sum(d[:0])
	return d
}
