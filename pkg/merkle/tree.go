package merkle

import "fmt"

// Tree is a fully built batching tree. Construction is deterministic: the
// same ordered leaves always produce the same root, so a tree can be rebuilt
// at any time from a sealed batch's stored leaves.
type Tree struct {
	// Leaves holds the original fingerprints in batch order.
	Leaves []Digest

	// levels[0] is Leaves; the last level holds only the root.
	levels [][]Digest
}

// BuildTree constructs the tree bottom-up. A tree over zero leaves does not
// exist; sealing an empty batch is rejected before this point, so an empty
// input here is a caller bug.
func BuildTree(leaves []Digest) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkle: cannot build tree with no leaves")
	}

	level := make([]Digest, len(leaves))
	copy(level, leaves)

	levels := [][]Digest{level}

	for len(level) > 1 {
		next := make([]Digest, 0, (len(level)+1)/2)

		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, PairHash(level[i], level[i+1]))
			} else {
				// Unpaired trailing node: carried up unchanged.
				next = append(next, level[i])
			}
		}

		level = next
		levels = append(levels, level)
	}

	return &Tree{
		Leaves: levels[0],
		levels: levels,
	}, nil
}

// Root returns the tree's root digest.
func (t *Tree) Root() Digest {
	return t.levels[len(t.levels)-1][0]
}

// Height returns the number of levels including the leaf level. A single
// leaf tree has height 1 and its leaf is its root.
func (t *Tree) Height() int {
	return len(t.levels)
}

// Root computes the root for a leaf set without retaining the tree.
func Root(leaves []Digest) (Digest, error) {
	t, err := BuildTree(leaves)
	if err != nil {
		return Digest{}, err
	}
	return t.Root(), nil
}
