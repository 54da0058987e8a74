// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handlers

import (
	"context"

	"github.com/luxfi/vdr/ledger/wire"
	"github.com/luxfi/vdr/pool/genesis"
	"github.com/luxfi/vdr/pool/networker"
	"github.com/luxfi/vdr/pool/perr"
	"github.com/luxfi/vdr/pool/reqstream"
)

// RunConsensus broadcasts to every validator and accepts the first
// canonical result to be echoed by more than f of them, per spec
// §4.7. Unlike the single handler it never resends: every node was
// already addressed by the initial broadcast.
func RunConsensus(ctx context.Context, stream *reqstream.Stream, validators *genesis.Set, reqPayload []byte) (wire.Message, error) {
	f := validators.F()
	n := validators.N()
	stream.Dispatch(validators.Aliases(), reqPayload)

	votes := map[string]int{}
	replied := 0
	failed := 0

	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			return wire.Message{}, perr.InvalidState("consensus: request ended prematurely")
		}

		switch ev.Kind {
		case networker.EventReceived:
			switch ev.Msg.Op {
			case wire.OpReply:
				_, key, err := replyResult(ev.Msg.Raw)
				if err != nil {
					failed++
					stream.CleanTimeout(ev.Alias)
					break
				}
				replied++
				votes[key]++
				stream.CleanTimeout(ev.Alias)
				if votes[key] > f {
					return ev.Msg, nil
				}
			case wire.OpReqNACK, wire.OpReject:
				failed++
				stream.CleanTimeout(ev.Alias)
			default:
				failed++
				stream.CleanTimeout(ev.Alias)
			}
		case networker.EventTimeout, networker.EventNetworkError:
			failed++
		}

		maxBucket := 0
		for _, c := range votes {
			if c > maxBucket {
				maxBucket = c
			}
		}
		if maxBucket+(n-replied-failed) <= f {
			return wire.Message{}, perr.NoConsensus("consensus: no quorum reachable")
		}
	}
}
