package merkle

import (
	"errors"
	"fmt"
)

// ErrLeafNotFound reports that a fingerprint is not a leaf of the tree in
// question. It is a normal negative result, not a fault.
var ErrLeafNotFound = errors.New("merkle: leaf not found in tree")

// Position records which side of the pair a sibling sat on when the proof
// was generated. Verification ignores it; it exists for display and audit.
type Position string

const (
	PositionLeft  Position = "left"
	PositionRight Position = "right"
)

// ProofStep is one level of an inclusion proof.
type ProofStep struct {
	Sibling  Digest   `json:"sibling"`
	Position Position `json:"position"`
}

// Proof is an inclusion proof binding one leaf to a root. Levels where the
// climbing node was carried up unpaired contribute no step.
type Proof struct {
	LeafIndex int         `json:"leaf_index"`
	Leaf      Digest      `json:"leaf"`
	Root      Digest      `json:"root"`
	Steps     []ProofStep `json:"steps"`
}

// Siblings returns the bare digest path, the form consumed by external
// verifiers that only replay the pair hash.
func (p *Proof) Siblings() []Digest {
	out := make([]Digest, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Sibling
	}
	return out
}

// Prove generates a proof for the first occurrence of target among the
// leaves. Duplicate fingerprints are legal; later occurrences are reachable
// through ProveAt.
func (t *Tree) Prove(target Digest) (*Proof, error) {
	for i, leaf := range t.Leaves {
		if leaf == target {
			return t.ProveAt(i)
		}
	}
	return nil, ErrLeafNotFound
}

// ProveAt generates a proof for the leaf at the given index.
func (t *Tree) ProveAt(index int) (*Proof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0, %d)", index, len(t.Leaves))
	}

	proof := &Proof{
		LeafIndex: index,
		Leaf:      t.Leaves[index],
		Root:      t.Root(),
		Steps:     make([]ProofStep, 0),
	}

	idx := index
	for levelNum := 0; levelNum < len(t.levels)-1; levelNum++ {
		level := t.levels[levelNum]

		var siblingIdx int
		var position Position

		if idx%2 == 0 {
			siblingIdx = idx + 1
			position = PositionRight
		} else {
			siblingIdx = idx - 1
			position = PositionLeft
		}

		// A node carried up unpaired has no sibling at this level.
		if siblingIdx < len(level) {
			proof.Steps = append(proof.Steps, ProofStep{
				Sibling:  level[siblingIdx],
				Position: position,
			})
		}

		idx = idx / 2
	}

	return proof, nil
}

// Verify replays an inclusion proof. It is a pure function: no tree, no
// store, no lock. Anyone holding the leaf, the sibling path and a published
// root can run it, including against roots this process has never seen.
func Verify(leaf Digest, siblings []Digest, root Digest) bool {
	current := leaf
	for _, sibling := range siblings {
		current = PairHash(current, sibling)
	}
	return current == root
}

// VerifyProof checks a self-contained proof document against its own root.
func VerifyProof(p *Proof) bool {
	return Verify(p.Leaf, p.Siblings(), p.Root)
}
