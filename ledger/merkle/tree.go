// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package merkle implements the append-only Merkle tree used to track
// ledger transactions locally and to verify consistency proofs against
// the root a validator publishes.
package merkle

import (
	"crypto/sha256"
	"errors"
)

// ErrInvalidStructure is returned when a consistency proof cannot be
// interpreted against the current tree (malformed node list, target
// size smaller than the local tree, or a hash mismatch).
var ErrInvalidStructure = errors.New("merkle: invalid proof structure")

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

func leafHash(blob []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(blob)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Tree is an append-only binary Merkle tree over transaction byte
// blobs. The hashing scheme follows the classic unbalanced
// construction (leaves split at the largest power of two below the
// count), the same shape RFC 6962 transparency logs use, which is
// what makes cheap consistency proofs between two prefix sizes
// possible.
type Tree struct {
	leaves [][]byte
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// FromTxns builds a tree by appending each blob in order, used to
// rebuild the local tree from a genesis transaction set or a saved
// ledger snapshot.
func FromTxns(blobs [][]byte) *Tree {
	t := New()
	for _, b := range blobs {
		t.Append(b)
	}
	return t
}

// Count returns the number of leaves appended so far.
func (t *Tree) Count() int {
	return len(t.leaves)
}

// Append adds a single transaction blob to the tree.
func (t *Tree) Append(blob []byte) {
	cp := append([]byte(nil), blob...)
	t.leaves = append(t.leaves, cp)
}

// Leaves returns a copy of the transaction blobs appended so far, in
// order, used by the catchup handler to extend a local tree with
// freshly fetched transactions without aliasing the original slice.
func (t *Tree) Leaves() [][]byte {
	out := make([][]byte, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// RootHash returns the current root hash. The root of an empty tree
// is the SHA-256 hash of the empty leaf encoding, so an empty local
// tree still has a well-defined root to compare against a fresh pool.
func (t *Tree) RootHash() [32]byte {
	return mth(t.leaves)
}

// largestPowerOfTwoBelow returns the largest power of two strictly
// less than n, for n > 1.
func largestPowerOfTwoBelow(n int) int {
	k := 1
	for k*2 < n {
		k *= 2
	}
	return k
}

// mth computes the Merkle Tree Hash of a leaf-blob sequence per the
// standard recursive definition: MTH({}) is the empty-leaf hash,
// MTH({d}) is the leaf hash of d, and MTH(D) for |D|>1 splits D at the
// largest power of two below |D| and combines the two halves' hashes.
func mth(leaves [][]byte) [32]byte {
	n := len(leaves)
	if n == 0 {
		return leafHash(nil)
	}
	if n == 1 {
		return leafHash(leaves[0])
	}
	k := largestPowerOfTwoBelow(n)
	left := mth(leaves[:k])
	right := mth(leaves[k:])
	return nodeHash(left, right)
}

// ConsistencyProof verifies that a tree of size targetSize with root
// targetRoot is an extension of the current tree, i.e. the current
// tree's leaves are a prefix of the target tree's leaves, using the
// sibling hashes a validator supplies.
//
// It reconstructs the old root and the new root from the local
// leaves plus nodes, and accepts iff the reconstructed new root
// equals targetRoot (and, when the local tree is non-empty, the
// reconstructed old root equals the tree's current root — guarding
// against a validator substituting an unrelated sibling list).
func (t *Tree) ConsistencyProof(targetRoot [32]byte, targetSize int, nodes [][32]byte) (bool, error) {
	size := t.Count()
	if targetSize < size {
		return false, ErrInvalidStructure
	}
	if targetSize == size {
		if len(nodes) != 0 {
			return false, ErrInvalidStructure
		}
		return t.RootHash() == targetRoot, nil
	}
	if size == 0 {
		// An empty local tree has no root to authenticate against;
		// the caller must instead treat any such target as a fresh
		// catch-up origin, not as something this proof can verify.
		return false, ErrInvalidStructure
	}

	oldRoot, newRoot, err := consistencyRoots(t.leaves, size, targetSize, nodes)
	if err != nil {
		return false, err
	}
	if oldRoot != t.RootHash() {
		return false, ErrInvalidStructure
	}
	return newRoot == targetRoot, nil
}

// consistencyRoots walks the RFC 6962-style consistency sub-proof
// recursively over the locally known leaves (for the part that
// overlaps the old tree) and the supplied sibling nodes (for
// everything the local tree cannot recompute itself), returning both
// the old root and the new root it implies.
func consistencyRoots(leaves [][]byte, m, n int, nodes [][32]byte) (oldRoot, newRoot [32]byte, err error) {
	idx := 0
	fn, sn, ok := consistencySubProof(leaves, 0, m, n, true, &idx, nodes)
	if !ok {
		return oldRoot, newRoot, ErrInvalidStructure
	}
	return fn, sn, nil
}

// consistencySubProof implements RFC 6962 §2.1.2's SUBPROOF(m, D[0:n],
// b), specialized so that any subtree whose leaf range lies entirely
// within the local tree's first m leaves is computed directly, and
// any subtree beyond that is pulled one hash at a time from `nodes`.
//
// off is the absolute index, into the outermost leaf slice, at which
// this call's [0,n) subtree range begins; the recursion into a right
// subtree shifts off by k so hashRange always addresses the correct
// absolute leaves even though m/n are re-based to the subtree's own
// coordinates, per RFC 6962's D[k:n] reindexing.
func consistencySubProof(leaves [][]byte, off, m, n int, b bool, idx *int, nodes [][32]byte) (oldRoot, newRoot [32]byte, ok bool) {
	hashRange := func(lo, hi int) ([32]byte, bool) {
		if hi <= m {
			return mth(leaves[off+lo : off+hi]), true
		}
		if *idx >= len(nodes) {
			return [32]byte{}, false
		}
		h := nodes[*idx]
		*idx++
		return h, true
	}

	if m == n {
		root, subOK := hashRange(0, m)
		if !subOK {
			return oldRoot, newRoot, false
		}
		return root, root, true
	}

	k := largestPowerOfTwoBelow(n)
	if m <= k {
		left, right, subOK := consistencySubProof(leaves, off, m, k, b, idx, nodes)
		if !subOK {
			return oldRoot, newRoot, false
		}
		rightHash, subOK := hashRange(k, n)
		if !subOK {
			return oldRoot, newRoot, false
		}
		return left, nodeHash(right, rightHash), true
	}

	left, right, subOK := consistencySubProof(leaves, off+k, m-k, n-k, false, idx, nodes)
	if !subOK {
		return oldRoot, newRoot, false
	}
	leftHash, subOK := hashRange(0, k)
	if !subOK {
		return oldRoot, newRoot, false
	}
	return nodeHash(leftHash, left), nodeHash(leftHash, right), true
}
