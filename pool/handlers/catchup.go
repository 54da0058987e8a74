// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handlers

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/luxfi/vdr/ledger/merkle"
	"github.com/luxfi/vdr/ledger/wire"
	"github.com/luxfi/vdr/pool/networker"
	"github.com/luxfi/vdr/pool/perr"
	"github.com/luxfi/vdr/pool/reqstream"
)

// CatchupOutcome carries the transactions fetched to reach the target,
// in ascending seq_no order.
type CatchupOutcome struct {
	Txns [][]byte
}

// RunCatchup fetches [tree.Count()+1 .. targetSize] from one candidate
// node at a time, verifying the fetched range against targetRoot
// before accepting it, per spec §4.5.
func RunCatchup(ctx context.Context, stream *reqstream.Stream, tree *merkle.Tree, candidates []string, targetRoot [32]byte, targetSize int, ledgerID int) (CatchupOutcome, error) {
	from := tree.Count() + 1
	req := wire.CatchupReq{
		Op:           wire.OpCatchupReq,
		LedgerID:     ledgerID,
		Seq_no_start: from,
		Seq_no_end:   targetSize,
		CatchupTill:  targetSize,
	}
	payload, err := wire.Serialize(req)
	if err != nil {
		return CatchupOutcome{}, perr.Wrap(perr.KindInput, err)
	}

	remaining := append([]string(nil), candidates...)

	for {
		if len(remaining) == 0 {
			return CatchupOutcome{}, perr.Timeout("catchup: exhausted candidate nodes")
		}
		node := remaining[0]
		remaining = remaining[1:]
		stream.Dispatch([]string{node}, payload)

		ev, ok := stream.Next(ctx)
		if !ok {
			return CatchupOutcome{}, perr.Timeout("catchup: request ended prematurely")
		}
		switch ev.Kind {
		case networker.EventReceived:
			if ev.Msg.Op != wire.OpCatchupRep {
				return CatchupOutcome{}, perr.InvalidState(fmt.Sprintf("catchup: unexpected op %s", ev.Msg.Op))
			}
			txns, err := orderedTxns(ev.Msg.CatchupRep, from, targetSize)
			if err != nil {
				stream.CleanTimeout(node)
				continue
			}
			clone := merkle.FromTxns(append(tree.Leaves(), txns...))
			if clone.RootHash() != targetRoot || clone.Count() != targetSize {
				stream.CleanTimeout(node)
				continue
			}
			return CatchupOutcome{Txns: txns}, nil
		case networker.EventTimeout, networker.EventNetworkError:
			continue
		}
	}
}

// orderedTxns decodes a CATCHUP_REP's string-keyed txn map into
// ascending seq_no order, validating the key range is exactly
// [from, to] with no gaps.
func orderedTxns(rep *wire.CatchupRep, from, to int) ([][]byte, error) {
	if rep == nil {
		return nil, fmt.Errorf("catchup: nil reply")
	}
	keys := make([]int, 0, len(rep.Txns))
	for k := range rep.Txns {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("catchup: non-integer seq_no key %q", k)
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)
	if len(keys) != to-from+1 {
		return nil, fmt.Errorf("catchup: expected %d txns, got %d", to-from+1, len(keys))
	}
	out := make([][]byte, 0, len(keys))
	for i, k := range keys {
		if k != from+i {
			return nil, fmt.Errorf("catchup: gap in seq_no range at %d", k)
		}
		out = append(out, []byte(rep.Txns[strconv.Itoa(k)]))
	}
	return out, nil
}
