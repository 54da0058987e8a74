// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stateproof

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// trieNode is a single node of a simplified Merkle-Patricia-Trie proof
// as carried in a reply's state_proof: either a branch with up to 16
// hashed children plus an optional embedded value, or a leaf carrying
// a nibble-encoded key fragment and a value.
//
// This is deliberately not a byte-compatible re-implementation of the
// upstream ledger's RLP/msgpack-encoded trie: no library in reach here
// speaks that wire format, and faking compatibility would be worse
// than being honest about the gap (see DESIGN.md). What's preserved is
// the verification shape the caller depends on: a chain of hashed
// nodes from a claimed root down to a leaf whose value is compared
// against the reply's own result.
type trieNode struct {
	// Kind is "branch" or "leaf", matching the node's entry in the
	// proof's encoded node list.
	Kind string `json:"kind"`
	// Children holds, for a branch, the hash of each of up to 16
	// child nodes (nil where absent).
	Children [16]*[32]byte `json:"-"`
	// ChildrenHex is the JSON wire form of Children: hex strings,
	// empty string for an absent slot.
	ChildrenHex [16]string `json:"children"`
	// KeyNibbles is the leaf's remaining key, one nibble per byte
	// (0-15), matching the path consumed by the branches above it.
	KeyNibbles []byte `json:"key_nibbles,omitempty"`
	// Value is the leaf's raw value bytes, or a branch's embedded
	// value when the key terminates there.
	Value []byte `json:"value,omitempty"`
}

// UnmarshalJSON decodes the wire ChildrenHex array into Children,
// leaving absent slots nil.
func (n *trieNode) UnmarshalJSON(data []byte) error {
	type wire trieNode
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = trieNode(w)
	for i, hx := range n.ChildrenHex {
		if hx == "" {
			continue
		}
		b, err := hex.DecodeString(hx)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("stateproof: invalid child hash at index %d", i)
		}
		var arr [32]byte
		copy(arr[:], b)
		n.Children[i] = &arr
	}
	return nil
}

// nodeHash returns the hash a parent branch references this node by:
// the same construction the proof was built with, which must match
// hash-for-hash for the proof to be meaningful. Absent a real trie
// codec, nodes are hashed over their canonical JSON encoding.
func nodeHash(n *trieNode) ([32]byte, error) {
	enc, err := json.Marshal(n)
	if err != nil {
		return [32]byte{}, fmt.Errorf("stateproof: encode trie node: %w", err)
	}
	return sha256.Sum256(enc), nil
}

// walkProof follows a chain of proof nodes from root to leaf,
// consuming one nibble of key per branch, and returns the leaf value
// once the key is exhausted. It returns an error for any structural
// mismatch (wrong child hash, key not found, trailing nodes) rather
// than panicking, since a malformed proof must be treated as a
// verification failure, never a crash.
func walkProof(root [32]byte, key []byte, nodes []trieNode) ([]byte, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("stateproof: empty proof")
	}
	nibbles := toNibbles(key)

	cur := &nodes[0]
	h, err := nodeHash(cur)
	if err != nil {
		return nil, err
	}
	if h != root {
		return nil, fmt.Errorf("stateproof: proof root mismatch")
	}

	idx := 1
	for {
		if len(nibbles) == 0 {
			if cur.Kind == "leaf" && len(cur.KeyNibbles) == 0 {
				return cur.Value, nil
			}
			if cur.Kind == "branch" && len(cur.Value) > 0 {
				return cur.Value, nil
			}
			return nil, fmt.Errorf("stateproof: key not found at trie leaf")
		}
		switch cur.Kind {
		case "leaf":
			if !nibblesEqual(cur.KeyNibbles, nibbles) {
				return nil, fmt.Errorf("stateproof: leaf key mismatch")
			}
			return cur.Value, nil
		case "branch":
			n := nibbles[0]
			if n >= 16 {
				return nil, fmt.Errorf("stateproof: invalid nibble %d", n)
			}
			childHash := cur.Children[n]
			if childHash == nil {
				return nil, fmt.Errorf("stateproof: no child at nibble %d", n)
			}
			if idx >= len(nodes) {
				return nil, fmt.Errorf("stateproof: proof truncated")
			}
			next := &nodes[idx]
			idx++
			nh, err := nodeHash(next)
			if err != nil {
				return nil, err
			}
			if nh != *childHash {
				return nil, fmt.Errorf("stateproof: child hash mismatch at nibble %d", n)
			}
			cur = next
			nibbles = nibbles[1:]
		default:
			return nil, fmt.Errorf("stateproof: unknown trie node kind %q", cur.Kind)
		}
	}
}

func toNibbles(key []byte) []byte {
	out := make([]byte, 0, len(key)*2)
	for _, b := range key {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}

func nibblesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
