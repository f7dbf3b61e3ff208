// Package archive exports sealed batches as self-contained verification
// bundles. A bundle carries the batch metadata, every leaf and every
// inclusion proof; any third party can verify it offline against the
// anchored root without talking to this service.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"

	"github.com/sentinelx-labs/audittrail/pkg/batch"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// FormatVersion is the bundle format this build writes. Readers accept any
// bundle that shares the major version.
const FormatVersion = "1.0.0"

var (
	// ErrIncompatibleVersion reports a bundle written by a different major
	// format version.
	ErrIncompatibleVersion = errors.New("archive: incompatible bundle format version")

	// ErrChecksumMismatch reports that the bundle content does not match its
	// embedded checksum.
	ErrChecksumMismatch = errors.New("archive: manifest checksum mismatch")
)

// Manifest is the bundle document. Checksum is SHA-256 over the RFC 8785
// canonical form of the manifest with Checksum itself empty, so the bundle
// survives whitespace and key-order reformatting but nothing else.
type Manifest struct {
	FormatVersion string             `json:"format_version"`
	BatchID       uint64             `json:"batch_id"`
	MerkleRoot    merkle.Digest      `json:"merkle_root"`
	EventCount    int                `json:"event_count"`
	SealedAt      time.Time          `json:"sealed_at"`
	AnchorStatus  batch.AnchorStatus `json:"anchor_status"`
	LedgerTxRef   string             `json:"ledger_tx_ref,omitempty"`
	Leaves        []merkle.Digest    `json:"leaves"`
	Proofs        []*merkle.Proof    `json:"proofs"`
	Checksum      string             `json:"checksum,omitempty"`
}

// BuildManifest assembles and seals a manifest for a batch. The batch must
// carry its events; proof generation re-derives the tree from them.
func BuildManifest(b *batch.Batch) (*Manifest, error) {
	if len(b.Events) == 0 {
		return nil, fmt.Errorf("archive: batch %d has no events loaded", b.ID)
	}

	leaves := b.Leaves()
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("archive: rebuild tree for batch %d: %w", b.ID, err)
	}
	if tree.Root() != b.MerkleRoot {
		return nil, fmt.Errorf("archive: batch %d events do not reproduce its root", b.ID)
	}

	proofs := make([]*merkle.Proof, len(leaves))
	for i := range leaves {
		proofs[i], err = tree.ProveAt(i)
		if err != nil {
			return nil, fmt.Errorf("archive: prove leaf %d of batch %d: %w", i, b.ID, err)
		}
	}

	m := &Manifest{
		FormatVersion: FormatVersion,
		BatchID:       b.ID,
		MerkleRoot:    b.MerkleRoot,
		EventCount:    b.EventCount,
		SealedAt:      b.SealedAt,
		AnchorStatus:  b.AnchorStatus,
		LedgerTxRef:   b.LedgerTxRef,
		Leaves:        leaves,
		Proofs:        proofs,
	}

	m.Checksum, err = m.computeChecksum()
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Encode renders the manifest as an indented JSON document. Formatting is
// cosmetic; verification canonicalizes before hashing.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

func (m *Manifest) computeChecksum() (string, error) {
	unsealed := *m
	unsealed.Checksum = ""

	raw, err := json.Marshal(&unsealed)
	if err != nil {
		return "", fmt.Errorf("archive: marshal for checksum: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("archive: canonicalize manifest: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// VerifyManifest checks a decoded manifest end to end: format version gate,
// checksum, root recomputation from the leaves, and replay of every proof.
// It needs nothing beyond the manifest itself.
func VerifyManifest(m *Manifest) error {
	if err := checkFormatVersion(m.FormatVersion); err != nil {
		return err
	}

	want, err := m.computeChecksum()
	if err != nil {
		return err
	}
	if m.Checksum != want {
		return fmt.Errorf("%w: have %s, computed %s", ErrChecksumMismatch, m.Checksum, want)
	}

	if len(m.Leaves) != m.EventCount {
		return fmt.Errorf("archive: manifest lists %d leaves but event_count is %d", len(m.Leaves), m.EventCount)
	}
	root, err := merkle.Root(m.Leaves)
	if err != nil {
		return fmt.Errorf("archive: recompute root: %w", err)
	}
	if root != m.MerkleRoot {
		return fmt.Errorf("archive: leaves recompute to %s, manifest claims %s", root, m.MerkleRoot)
	}

	if len(m.Proofs) != len(m.Leaves) {
		return fmt.Errorf("archive: manifest carries %d proofs for %d leaves", len(m.Proofs), len(m.Leaves))
	}
	for i, p := range m.Proofs {
		if p == nil {
			return fmt.Errorf("archive: proof %d is missing", i)
		}
		if p.Root != m.MerkleRoot {
			return fmt.Errorf("archive: proof %d targets root %s, not the manifest root", i, p.Root)
		}
		// Proofs are positional: proof i covers leaf i.
		if p.LeafIndex != i {
			return fmt.Errorf("archive: proof %d claims leaf index %d", i, p.LeafIndex)
		}
		if m.Leaves[i] != p.Leaf {
			return fmt.Errorf("archive: proof %d does not match leaf %d", i, i)
		}
		if !merkle.VerifyProof(p) {
			return fmt.Errorf("archive: proof %d for leaf %s fails verification", i, p.Leaf)
		}
	}

	return nil
}

func checkFormatVersion(v string) error {
	have, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("archive: unparseable format version %q: %w", v, err)
	}
	supported := semver.MustParse(FormatVersion)
	if have.Major() != supported.Major() {
		return fmt.Errorf("%w: bundle is %s, this build reads %d.x", ErrIncompatibleVersion, v, supported.Major())
	}
	return nil
}
