//go:build property
// +build property

// Package merkle_test contains property-based tests for tree determinism
// and proof round trips across arbitrary leaf sets.
package merkle_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

func fingerprints(labels []string) []merkle.Digest {
	out := make([]merkle.Digest, len(labels))
	for i, l := range labels {
		out[i] = merkle.Fingerprint([]byte(l))
	}
	return out
}

// TestRootDeterminism verifies identical leaf sequences always produce the
// same root.
func TestRootDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same leaves same root", prop.ForAll(
		func(labels []string) bool {
			if len(labels) == 0 {
				return true // Empty batches never reach the builder
			}
			ls := fingerprints(labels)

			r1, err1 := merkle.Root(ls)
			r2, err2 := merkle.Root(ls)
			if err1 != nil || err2 != nil {
				return false
			}
			return r1 == r2
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestProofRoundTrip verifies every generated proof replays to the root.
func TestProofRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every leaf proves and verifies", prop.ForAll(
		func(labels []string) bool {
			if len(labels) == 0 {
				return true
			}
			ls := fingerprints(labels)

			tree, err := merkle.BuildTree(ls)
			if err != nil {
				return false
			}

			for i := range ls {
				proof, err := tree.ProveAt(i)
				if err != nil {
					return false
				}
				if !merkle.Verify(proof.Leaf, proof.Siblings(), tree.Root()) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestProofTamperSensitivity verifies a corrupted sibling path never
// replays to the root.
func TestProofTamperSensitivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("flipping a path byte breaks verification", prop.ForAll(
		func(labels []string, stepPick, bytePick int) bool {
			if len(labels) < 2 {
				return true
			}
			ls := fingerprints(labels)

			tree, err := merkle.BuildTree(ls)
			if err != nil {
				return false
			}

			proof, err := tree.ProveAt(0)
			if err != nil {
				return false
			}
			siblings := proof.Siblings()
			if len(siblings) == 0 {
				return true
			}

			siblings[stepPick%len(siblings)][bytePick%merkle.DigestSize] ^= 0x01
			return !merkle.Verify(proof.Leaf, siblings, tree.Root())
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

// TestPairOrderIndependence verifies the value-ordered pair rule makes
// sibling position irrelevant to verification.
func TestPairOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("PairHash is symmetric", prop.ForAll(
		func(x, y string) bool {
			a := merkle.Fingerprint([]byte(x))
			b := merkle.Fingerprint([]byte(y))
			return merkle.PairHash(a, b) == merkle.PairHash(b, a)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
