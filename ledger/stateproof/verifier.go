// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stateproof verifies the state proof a validator attaches to
// a single-read reply: a Merkle-Patricia-Trie proof of a ledger leaf
// plus a BLS multisignature over that proof's root, per spec §4.9.
// Verify never panics on malformed input; the caller treats a false
// result as a negative vote and keeps waiting for other replies.
package stateproof

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/luxfi/crypto/bls"

	"github.com/luxfi/vdr/pool/genesis"
)

// multiSignature is the BLS attestation over the proof's commitment
// value: timestamp plus the four roots it binds.
type multiSignature struct {
	Signature    string   `json:"signature"`
	Participants []string `json:"participants"`
	Value        struct {
		Timestamp     int64  `json:"timestamp"`
		TxnRoot       string `json:"txn_root"`
		StateRoot     string `json:"state_root"`
		LedgerID      int    `json:"ledger_id"`
		PoolStateRoot string `json:"pool_state_root"`
	} `json:"value"`
}

// proofBlob is one state_proof (or stateProofFrom) object: the trie
// proof plus its multisignature.
type proofBlob struct {
	RootHash       string         `json:"root_hash"`
	ProofNodes     []trieNode     `json:"proof_nodes"`
	MultiSignature multiSignature `json:"multi_signature"`
}

// Window is the caller-requested (from, to) freshness bound. Either
// end may be nil; a nil To is treated as wall-clock now.
type Window struct {
	From *int64
	To   *int64
}

// Result reports what Verify found, for logging; handlers only need
// the Ok field, but keeping the detail around makes "why did this
// reply lose" debuggable.
type Result struct {
	Ok     bool
	Reason string
}

func reject(format string, args ...interface{}) Result {
	return Result{Ok: false, Reason: fmt.Sprintf(format, args...)}
}

// Verify checks the state proof embedded in a reply's result against
// sp_key, the genesis validator set (for BLS public keys and f+1), and
// the caller's freshness window. expectedValue is the leaf value the
// request builder's get_sp_key contract says the trie should hold for
// this reply (see spec §4.9); Verify compares the proof's own leaf
// value against it byte-for-byte.
func Verify(result json.RawMessage, spKey, expectedValue []byte, validators *genesis.Set, window Window, freshnessThreshold time.Duration, now time.Time) Result {
	if len(spKey) == 0 {
		return reject("no sp_key to verify against")
	}

	var wrapper struct {
		StateProof     json.RawMessage `json:"state_proof"`
		Data           struct {
			StateProofFrom json.RawMessage `json:"stateProofFrom"`
		} `json:"data"`
	}
	if err := json.Unmarshal(result, &wrapper); err != nil {
		return reject("malformed result: %v", err)
	}
	if len(wrapper.StateProof) == 0 {
		return reject("no state_proof present")
	}

	proof, err := parseProof(wrapper.StateProof)
	if err != nil {
		return reject("%v", err)
	}
	res := verifyOne(proof, spKey, expectedValue, validators)
	if !res.Ok {
		return res
	}
	if res2 := checkFreshness(proof.MultiSignature.Value.Timestamp, window.To, freshnessThreshold, now); !res2.Ok {
		return res2
	}

	if len(wrapper.Data.StateProofFrom) > 0 && window.From != nil {
		fromProof, err := parseProof(wrapper.Data.StateProofFrom)
		if err != nil {
			return reject("malformed stateProofFrom: %v", err)
		}
		// The "from" proof only needs to authenticate its own
		// freshness bound; its trie leaf isn't re-checked against
		// expectedValue since it anchors the range's lower edge, not
		// the reply's answer.
		if fromRes := verifyOne(fromProof, spKey, nil, validators); !fromRes.Ok {
			return fromRes
		}
		to := window.From
		if res3 := checkFreshness(fromProof.MultiSignature.Value.Timestamp, to, freshnessThreshold, now); !res3.Ok {
			return res3
		}
	}

	return Result{Ok: true}
}

func parseProof(raw json.RawMessage) (*proofBlob, error) {
	var p proofBlob
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed state proof: %w", err)
	}
	return &p, nil
}

func verifyOne(p *proofBlob, spKey, expectedValue []byte, validators *genesis.Set) Result {
	root, err := decodeHash(p.RootHash)
	if err != nil {
		return reject("bad trie root: %v", err)
	}
	leaf, err := walkProof(root, spKey, p.ProofNodes)
	if err != nil {
		return reject("trie walk failed: %v", err)
	}
	if expectedValue != nil && !bytesEqual(leaf, expectedValue) {
		return reject("trie leaf value does not match reply result")
	}

	if res := verifyMultiSignature(p.MultiSignature, validators); !res.Ok {
		return res
	}
	return Result{Ok: true}
}

// verifyMultiSignature aggregates the named participants' BLS public
// keys and checks the signature over the canonical JSON encoding of
// the attestation value, requiring at least f+1 distinct, known
// participants.
func verifyMultiSignature(ms multiSignature, validators *genesis.Set) Result {
	f := validators.F()
	if len(ms.Participants) < f+1 {
		return reject("only %d participants, need f+1=%d", len(ms.Participants), f+1)
	}

	seen := make(map[string]bool, len(ms.Participants))
	pubKeys := make([]*bls.PublicKey, 0, len(ms.Participants))
	for _, alias := range ms.Participants {
		if seen[alias] {
			return reject("duplicate participant %q", alias)
		}
		seen[alias] = true
		vi, ok := validators.Get(alias)
		if !ok {
			return reject("unknown participant %q", alias)
		}
		if len(vi.BLSKey) == 0 {
			return reject("participant %q has no bls key", alias)
		}
		pk, err := bls.PublicKeyFromCompressedBytes(vi.BLSKey)
		if err != nil {
			return reject("participant %q: invalid bls key: %v", alias, err)
		}
		pubKeys = append(pubKeys, pk)
	}

	aggKey, err := bls.AggregatePublicKeys(pubKeys)
	if err != nil {
		return reject("aggregate public keys: %v", err)
	}

	sigBytes, err := decodeHash64(ms.Signature)
	if err != nil {
		return reject("bad signature encoding: %v", err)
	}
	sig, err := bls.SignatureFromBytes(sigBytes)
	if err != nil {
		return reject("invalid bls signature: %v", err)
	}

	msg, err := json.Marshal(ms.Value)
	if err != nil {
		return reject("encode attestation value: %v", err)
	}
	if !bls.Verify(aggKey, sig, msg) {
		return reject("bls multisignature does not verify")
	}
	return Result{Ok: true}
}

// checkFreshness enforces req_to <= T_last + threshold. A nil to is
// treated as wall-clock now, matching the spec's resolution for
// unspecified freshness windows.
func checkFreshness(lastWriteUnix int64, to *int64, threshold time.Duration, now time.Time) Result {
	reqTo := now.Unix()
	if to != nil {
		reqTo = *to
	}
	if reqTo > lastWriteUnix+int64(threshold/time.Second) {
		return reject("state proof stale: req_to=%d last_write=%d threshold=%s", reqTo, lastWriteUnix, threshold)
	}
	return Result{Ok: true}
}

func decodeHash(s string) ([32]byte, error) {
	b, err := decodeHexOrBase58(s)
	var out [32]byte
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func decodeHash64(s string) ([]byte, error) {
	return decodeHexOrBase58(s)
}

func bytesEqual(a, b []byte) bool {
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
