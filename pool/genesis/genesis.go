// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package genesis parses newline-delimited genesis transactions into
// the per-validator info the pool needs to open sockets and verify
// state proofs, deriving the Curve25519 encryption key for each
// validator once from its Ed25519 verkey.
package genesis

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/luxfi/vdr/pool/perr"
)

// ProtocolVersion gates genesis-record format and request framing.
type ProtocolVersion int

const (
	ProtocolV1 ProtocolVersion = 1
	ProtocolV2 ProtocolVersion = 2
)

// ValidatorInfo is the immutable per-node record derived once at pool
// construction from the genesis set.
type ValidatorInfo struct {
	Alias      string
	ClientAddr string
	// Verkey is the raw Ed25519 public key bytes decoded from base58.
	Verkey []byte
	// EncKey is the Curve25519 key derived from Verkey, used to open
	// an encrypted socket to this validator.
	EncKey [32]byte
	// BLSKey is the optional BLS public key used by the state-proof
	// verifier; nil if the genesis record carried none.
	BLSKey []byte
}

// Set is the immutable, shared-read-only collection of validators a
// pool was constructed with.
type Set struct {
	byAlias map[string]ValidatorInfo
	aliases []string // stable order: sorted by alias
}

// NewSet builds a validator Set, rejecting an empty input (a pool
// cannot be constructed without at least one validator).
func NewSet(validators map[string]ValidatorInfo) (*Set, error) {
	if len(validators) == 0 {
		return nil, perr.Input("genesis: no validators found")
	}
	aliases := make([]string, 0, len(validators))
	for a := range validators {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	return &Set{byAlias: validators, aliases: aliases}, nil
}

// N returns the number of validators.
func (s *Set) N() int { return len(s.aliases) }

// F returns the BFT fault-tolerance bound f = max(0, (n-1)/3).
func (s *Set) F() int {
	n := s.N()
	if n == 0 {
		return 0
	}
	f := (n - 1) / 3
	if f < 0 {
		f = 0
	}
	return f
}

// Aliases returns all validator aliases in stable (sorted) order.
func (s *Set) Aliases() []string {
	out := make([]string, len(s.aliases))
	copy(out, s.aliases)
	return out
}

// Get returns the ValidatorInfo for an alias.
func (s *Set) Get(alias string) (ValidatorInfo, bool) {
	v, ok := s.byAlias[alias]
	return v, ok
}

// genesis transaction schemas, both V0 and V1 per spec §6; V0 is
// upgraded to V1 shape internally before deriving ValidatorInfo.

type txnV1 struct {
	Txn struct {
		Data struct {
			Data struct {
				Alias      string   `json:"alias"`
				ClientIP   string   `json:"client_ip"`
				ClientPort int      `json:"client_port"`
				Services   []string `json:"services"`
				BLSKey     string   `json:"blskey"`
			} `json:"data"`
			Dest string `json:"dest"`
		} `json:"data"`
	} `json:"txn"`
}

// txnV0 is the legacy flat schema: fields that V1 nests under
// txn.data live directly under the top-level "data" object, and the
// node identity ("dest") sits alongside it instead of under txn.data.
type txnV0 struct {
	Data struct {
		Alias      string   `json:"alias"`
		ClientIP   string   `json:"client_ip"`
		ClientPort int      `json:"client_port"`
		Services   []string `json:"services"`
		BLSKey     string   `json:"blskey"`
	} `json:"data"`
	Dest string `json:"dest"`
	Txn  *txnV1 `json:"txn,omitempty"`
}

// ReadTransactions splits a genesis file into its non-blank lines,
// each one a single transaction JSON object.
func ReadTransactions(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("genesis: read transactions: %w", err)
	}
	return lines, nil
}

// Parse turns genesis transaction lines into a validator Set,
// skipping non-VALIDATOR nodes with the caller-supplied warn hook
// rather than failing the whole genesis load.
func Parse(lines []string, warn func(msg string)) (*Set, error) {
	if warn == nil {
		warn = func(string) {}
	}
	validators := make(map[string]ValidatorInfo)
	for i, line := range lines {
		v1, err := normalizeTxn(line)
		if err != nil {
			return nil, fmt.Errorf("genesis: line %d: %w", i, err)
		}
		data := v1.Txn.Data.Data
		hasValidator := false
		for _, s := range data.Services {
			if s == "VALIDATOR" {
				hasValidator = true
				break
			}
		}
		if !hasValidator {
			warn(fmt.Sprintf("genesis: skipping non-validator node %q", data.Alias))
			continue
		}

		verkey, err := decodeVerkey(v1.Txn.Data.Dest)
		if err != nil {
			return nil, fmt.Errorf("genesis: alias %q: %w", data.Alias, err)
		}
		encKey, err := verkeyToCurve25519(verkey)
		if err != nil {
			return nil, fmt.Errorf("genesis: alias %q: derive enc key: %w", data.Alias, err)
		}
		if data.ClientIP == "" || data.ClientPort == 0 {
			return nil, fmt.Errorf("genesis: alias %q: missing client address", data.Alias)
		}

		var blsKey []byte
		if data.BLSKey != "" {
			blsKey, err = base58.Decode(data.BLSKey)
			if err != nil {
				return nil, fmt.Errorf("genesis: alias %q: invalid blskey: %w", data.Alias, err)
			}
		}

		validators[data.Alias] = ValidatorInfo{
			Alias:      data.Alias,
			ClientAddr: fmt.Sprintf("tcp://%s:%d", data.ClientIP, data.ClientPort),
			Verkey:     verkey,
			EncKey:     encKey,
			BLSKey:     blsKey,
		}
	}
	return NewSet(validators)
}

// normalizeTxn accepts either schema version and returns the V1
// shape, matching the original's "V0 upgraded to V1 internally".
func normalizeTxn(line string) (txnV1, error) {
	var probe struct {
		Txn *json.RawMessage `json:"txn"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return txnV1{}, fmt.Errorf("malformed genesis line: %w", err)
	}
	if probe.Txn != nil {
		var v1 txnV1
		if err := json.Unmarshal([]byte(line), &v1); err != nil {
			return txnV1{}, fmt.Errorf("malformed V1 genesis txn: %w", err)
		}
		return v1, nil
	}

	var v0 txnV0
	if err := json.Unmarshal([]byte(line), &v0); err != nil {
		return txnV1{}, fmt.Errorf("malformed V0 genesis txn: %w", err)
	}
	var up txnV1
	up.Txn.Data.Dest = v0.Dest
	up.Txn.Data.Data = v0.Data
	return up, nil
}

// decodeVerkey base58-decodes a node's verkey, which must be the full
// 32-byte key. The abbreviated "~..." short form is rejected with an
// error.
func decodeVerkey(dest string) ([]byte, error) {
	if strings.HasPrefix(dest, "~") {
		return nil, fmt.Errorf("genesis: abbreviated verkey form is not valid for a node's own dest")
	}
	b, err := base58.Decode(dest)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 dest: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("verkey must decode to 32 bytes, got %d", len(b))
	}
	return b, nil
}
