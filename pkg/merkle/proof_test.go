package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestThreeLeafProofs walks the canonical three-leaf shape end to end: the
// unpaired third leaf meets the first pair's parent at the top, so its proof
// is a single element while the paired leaves carry two.
func TestThreeLeafProofs(t *testing.T) {
	ls := leaves("a", "b", "c")
	a, b, c := ls[0], ls[1], ls[2]

	tree, err := BuildTree(ls)
	require.NoError(t, err)

	p1 := PairHash(a, b)
	root := PairHash(p1, c)
	require.Equal(t, root, tree.Root())

	t.Run("proof for the carried leaf has one element", func(t *testing.T) {
		proof, err := tree.Prove(c)
		require.NoError(t, err)
		require.Equal(t, 2, proof.LeafIndex)
		require.Equal(t, []Digest{p1}, proof.Siblings())
		require.Equal(t, PositionLeft, proof.Steps[0].Position)
		require.True(t, Verify(c, proof.Siblings(), root))
	})

	t.Run("proof for a paired leaf has two elements", func(t *testing.T) {
		proof, err := tree.Prove(a)
		require.NoError(t, err)
		require.Equal(t, 0, proof.LeafIndex)
		require.Equal(t, []Digest{b, c}, proof.Siblings())
		require.True(t, Verify(a, proof.Siblings(), root))
	})

	t.Run("middle leaf", func(t *testing.T) {
		proof, err := tree.Prove(b)
		require.NoError(t, err)
		require.Equal(t, []Digest{a, c}, proof.Siblings())
		require.True(t, Verify(b, proof.Siblings(), root))
	})
}

// TestProve verifies lookup semantics.
func TestProve(t *testing.T) {
	ls := leaves("a", "b", "c", "d")
	tree, err := BuildTree(ls)
	require.NoError(t, err)

	t.Run("absent leaf is a negative result", func(t *testing.T) {
		_, err := tree.Prove(Fingerprint([]byte("never enqueued")))
		require.ErrorIs(t, err, ErrLeafNotFound)
	})

	t.Run("duplicate leaf proves first occurrence", func(t *testing.T) {
		dup := leaves("x", "x", "y")
		dupTree, err := BuildTree(dup)
		require.NoError(t, err)

		proof, err := dupTree.Prove(dup[0])
		require.NoError(t, err)
		require.Equal(t, 0, proof.LeafIndex)

		// The second occurrence remains provable by position.
		second, err := dupTree.ProveAt(1)
		require.NoError(t, err)
		require.True(t, VerifyProof(second))
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := tree.ProveAt(-1)
		require.Error(t, err)
		_, err = tree.ProveAt(4)
		require.Error(t, err)
		require.Contains(t, err.Error(), "out of range")
	})
}

// TestVerify verifies proof replay over a spread of tree shapes.
func TestVerify(t *testing.T) {
	t.Run("single leaf verifies with empty path", func(t *testing.T) {
		leaf := Fingerprint([]byte("solo"))
		require.True(t, Verify(leaf, nil, leaf))
	})

	t.Run("every leaf of every shape verifies", func(t *testing.T) {
		for n := 1; n <= 9; n++ {
			labels := make([]string, n)
			for i := range labels {
				labels[i] = string(rune('a' + i))
			}
			ls := leaves(labels...)
			tree, err := BuildTree(ls)
			require.NoError(t, err)

			for i := range ls {
				proof, err := tree.ProveAt(i)
				require.NoError(t, err)
				require.True(t, Verify(proof.Leaf, proof.Siblings(), tree.Root()),
					"leaf %d of %d failed", i, n)
			}
		}
	})

	t.Run("tampered leaf fails", func(t *testing.T) {
		ls := leaves("a", "b", "c")
		tree, _ := BuildTree(ls)
		proof, err := tree.Prove(ls[0])
		require.NoError(t, err)

		require.False(t, Verify(Fingerprint([]byte("forged")), proof.Siblings(), tree.Root()))
	})

	t.Run("tampered sibling fails", func(t *testing.T) {
		ls := leaves("a", "b", "c", "d")
		tree, _ := BuildTree(ls)
		proof, err := tree.Prove(ls[0])
		require.NoError(t, err)

		siblings := proof.Siblings()
		siblings[0][5] ^= 0xff
		require.False(t, Verify(proof.Leaf, siblings, tree.Root()))
	})

	t.Run("wrong root fails", func(t *testing.T) {
		ls := leaves("a", "b")
		tree, _ := BuildTree(ls)
		proof, err := tree.Prove(ls[0])
		require.NoError(t, err)

		require.False(t, Verify(proof.Leaf, proof.Siblings(), Fingerprint([]byte("other root"))))
	})

	t.Run("truncated path fails", func(t *testing.T) {
		ls := leaves("a", "b", "c", "d")
		tree, _ := BuildTree(ls)
		proof, err := tree.Prove(ls[0])
		require.NoError(t, err)
		require.Len(t, proof.Steps, 2)

		require.False(t, Verify(proof.Leaf, proof.Siblings()[:1], tree.Root()))
	})

	t.Run("proof from one tree fails against another", func(t *testing.T) {
		t1, _ := BuildTree(leaves("a", "b", "c"))
		t2, _ := BuildTree(leaves("d", "e", "f"))

		proof, err := t1.ProveAt(0)
		require.NoError(t, err)
		require.False(t, Verify(proof.Leaf, proof.Siblings(), t2.Root()))
	})
}

// TestVerifyIsStateless verifies replay works for roots this process never
// built, as long as leaf, path and root are consistent.
func TestVerifyIsStateless(t *testing.T) {
	leaf := Fingerprint([]byte("remote event"))
	sibling := Fingerprint([]byte("remote sibling"))
	root := PairHash(leaf, sibling)

	require.True(t, Verify(leaf, []Digest{sibling}, root))
	require.False(t, Verify(leaf, []Digest{sibling}, PairHash(root, root)))
}
