// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func blobs(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("txn-%d", i))
	}
	return out
}

func TestEmptyTreeHasStableRoot(t *testing.T) {
	require.Equal(t, New().RootHash(), New().RootHash())
}

func TestAppendChangesRoot(t *testing.T) {
	tr := New()
	r0 := tr.RootHash()
	tr.Append([]byte("txn-0"))
	r1 := tr.RootHash()
	require.NotEqual(t, r0, r1)
	require.Equal(t, 1, tr.Count())
}

func TestRootHashDeterministic(t *testing.T) {
	a := FromTxns(blobs(7))
	b := FromTxns(blobs(7))
	require.Equal(t, a.RootHash(), b.RootHash())
}

func TestConsistencyProofSamePrefix(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 8, 13, 31} {
		full := FromTxns(blobs(n))
		for m := 1; m <= n; m++ {
			local := FromTxns(blobs(m))
			nodes, ok := proofNodesForTest(t, full, m, n)
			require.True(t, ok, "n=%d m=%d", n, m)
			valid, err := local.ConsistencyProof(full.RootHash(), n, nodes)
			require.NoError(t, err, "n=%d m=%d", n, m)
			require.True(t, valid, "n=%d m=%d", n, m)
		}
	}
}

func TestConsistencyProofRejectsWrongRoot(t *testing.T) {
	full := FromTxns(blobs(8))
	local := FromTxns(blobs(4))
	nodes, ok := proofNodesForTest(t, full, 4, 8)
	require.True(t, ok)

	var wrong [32]byte
	wrong[0] = 0xFF
	valid, err := local.ConsistencyProof(wrong, 8, nodes)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestConsistencyProofRejectsShrinkingTarget(t *testing.T) {
	local := FromTxns(blobs(8))
	_, err := local.ConsistencyProof(local.RootHash(), 4, nil)
	require.ErrorIs(t, err, ErrInvalidStructure)
}

func TestConsistencyProofSameSizeRequiresEqualRoot(t *testing.T) {
	local := FromTxns(blobs(5))
	valid, err := local.ConsistencyProof(local.RootHash(), 5, nil)
	require.NoError(t, err)
	require.True(t, valid)

	var wrong [32]byte
	valid, err = local.ConsistencyProof(wrong, 5, nil)
	require.NoError(t, err)
	require.False(t, valid)
}

// proofNodesForTest is the prover-side mirror of consistencySubProof:
// the same RFC 6962 traversal, but every time the verifier would need
// a node it doesn't have locally, the prover (who holds the full
// tree) computes it and appends it to the proof instead of consuming
// it from an input list.
func proofNodesForTest(t *testing.T, full *Tree, m, n int) ([][32]byte, bool) {
	t.Helper()
	var nodes [][32]byte

	var walk func(off, m, n int, b bool)
	walk = func(off, m, n int, b bool) {
		hashRange := func(lo, hi int) {
			if hi > m {
				nodes = append(nodes, mth(full.leaves[off+lo:off+hi]))
			}
		}
		if m == n {
			hashRange(0, m)
			return
		}
		k := largestPowerOfTwoBelow(n)
		if m <= k {
			walk(off, m, k, b)
			hashRange(k, n)
		} else {
			walk(off+k, m-k, n-k, false)
			hashRange(0, k)
		}
	}
	walk(0, m, n, true)
	return nodes, true
}
