// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package handlers implements the four pool request state machines —
// status, catchup, single, consensus — plus the pass-through full
// mode, per spec §4.4-4.8.
package handlers

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/luxfi/vdr/ledger/merkle"
	"github.com/luxfi/vdr/ledger/wire"
	"github.com/luxfi/vdr/pool/genesis"
	"github.com/luxfi/vdr/pool/networker"
	"github.com/luxfi/vdr/pool/perr"
	"github.com/luxfi/vdr/pool/reqstream"
)

// StatusOutcome is the status handler's result: either the local tree
// is already Synced, or a CatchupTarget was found ahead of it.
type StatusOutcome struct {
	Synced     bool
	TargetRoot [32]byte
	TargetSize int
	HasTarget  bool
}

// statusVote is the tally key: a validator's reported root, size, and
// (when ahead) the consistency hashes it offered.
type statusVote struct {
	root   string
	size   int
	hashes string // joined hex, "" when no consistency proof was offered
}

// RunStatus drives the status handler to completion: broadcasts
// LEDGER_STATUS to every validator, tallies votes, and resolves per
// spec §4.4's outcome rules.
func RunStatus(ctx context.Context, stream *reqstream.Stream, tree *merkle.Tree, validators *genesis.Set, reqID string, ledgerID int) (StatusOutcome, error) {
	root := tree.RootHash()
	msg := wire.LedgerStatus{
		Op:         wire.OpLedgerStatus,
		LedgerID:   ledgerID,
		Txn_seq_no: tree.Count(),
		MerkleRoot: hex.EncodeToString(root[:]),
	}
	payload, err := wire.Serialize(msg)
	if err != nil {
		return StatusOutcome{}, perr.Wrap(perr.KindInput, err)
	}
	aliases := validators.Aliases()
	stream.Dispatch(aliases, payload)

	f := validators.F()
	n := validators.N()
	votes := make(map[statusVote]int)
	byVote := make(map[statusVote]struct {
		root   [32]byte
		size   int
		hashes [][32]byte
	})
	replied := 0
	failed := 0

	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			return StatusOutcome{}, perr.InvalidState("request ended prematurely")
		}
		switch ev.Kind {
		case networker.EventReceived:
			v, parsedRoot, parsedHashes, decodeErr := decodeStatusReply(ev.Msg)
			if decodeErr != nil {
				failed++
				continue
			}
			replied++
			votes[v]++
			byVote[v] = struct {
				root   [32]byte
				size   int
				hashes [][32]byte
			}{parsedRoot, v.size, parsedHashes}
		case networker.EventTimeout, networker.EventNetworkError:
			failed++
		}

		maxBucket := 0
		var winner statusVote
		for v, c := range votes {
			if c > maxBucket {
				maxBucket = c
				winner = v
			}
		}
		if maxBucket > f {
			out, err := resolve(tree, byVote[winner])
			if err != nil {
				return StatusOutcome{}, err
			}
			return out, nil
		}
		if maxBucket+(n-replied-failed) <= f {
			return StatusOutcome{}, perr.NoConsensus("status: no quorum reachable")
		}
	}
}

func resolve(tree *merkle.Tree, winner struct {
	root   [32]byte
	size   int
	hashes [][32]byte
}) (StatusOutcome, error) {
	localSize := tree.Count()
	switch {
	case winner.size == localSize && winner.root == tree.RootHash():
		return StatusOutcome{Synced: true}, nil
	case winner.size == localSize:
		return StatusOutcome{}, perr.InvalidState("ledger tree not acceptable")
	case winner.size > localSize:
		if len(winner.hashes) > 0 {
			ok, err := tree.ConsistencyProof(winner.root, winner.size, winner.hashes)
			if err != nil || !ok {
				return StatusOutcome{}, perr.InvalidState("consistency proof failed")
			}
		}
		return StatusOutcome{HasTarget: true, TargetRoot: winner.root, TargetSize: winner.size}, nil
	default:
		return StatusOutcome{}, perr.InvalidState("local tree ahead of pool")
	}
}

func decodeStatusReply(msg wire.Message) (statusVote, [32]byte, [][32]byte, error) {
	var root [32]byte
	switch msg.Op {
	case wire.OpLedgerStatus:
		ls := msg.LedgerStatus
		r, err := decodeRoot(ls.MerkleRoot)
		if err != nil {
			return statusVote{}, root, nil, err
		}
		return statusVote{root: ls.MerkleRoot, size: ls.Txn_seq_no}, r, nil, nil
	case wire.OpConsistencyProof:
		cp := msg.ConsistencyProof
		r, err := decodeRoot(cp.NewMerkleRoot)
		if err != nil {
			return statusVote{}, root, nil, err
		}
		hashes := make([][32]byte, len(cp.Hashes))
		joined := ""
		for i, h := range cp.Hashes {
			b, err := decodeRoot(h)
			if err != nil {
				return statusVote{}, root, nil, err
			}
			hashes[i] = b
			joined += h
		}
		return statusVote{root: cp.NewMerkleRoot, size: cp.Seq_no_end, hashes: joined}, r, hashes, nil
	default:
		return statusVote{}, root, nil, fmt.Errorf("status: unexpected op %s", msg.Op)
	}
}

func decodeRoot(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("status: bad root hash %q", s)
	}
	copy(out[:], b)
	return out, nil
}
