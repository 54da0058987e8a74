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

// NodeOutcome is one addressed node's answer in a full-mode request:
// exactly one of Reply, Failed, or Timeout is set.
type NodeOutcome struct {
	Reply   []byte
	Failed  []byte
	Timeout bool
}

// RunFull addresses either every validator or a caller-chosen subset
// and collects exactly one outcome per addressed node, applying no
// consensus logic of its own, per spec §4.8.
func RunFull(ctx context.Context, stream *reqstream.Stream, validators *genesis.Set, reqPayload []byte, nodes []string) (map[string]NodeOutcome, error) {
	targets := nodes
	if len(targets) == 0 {
		targets = validators.Aliases()
	}
	stream.Dispatch(targets, reqPayload)

	out := make(map[string]NodeOutcome, len(targets))
	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			return nil, perr.InvalidState("full: request ended prematurely")
		}

		switch ev.Kind {
		case networker.EventReceived:
			switch ev.Msg.Op {
			case wire.OpReply:
				out[ev.Alias] = NodeOutcome{Reply: ev.Msg.Raw}
				stream.CleanTimeout(ev.Alias)
			default:
				out[ev.Alias] = NodeOutcome{Failed: ev.Msg.Raw}
				stream.CleanTimeout(ev.Alias)
			}
		case networker.EventTimeout:
			out[ev.Alias] = NodeOutcome{Timeout: true}
		case networker.EventNetworkError:
			out[ev.Alias] = NodeOutcome{Timeout: true}
		}

		if len(out) >= len(targets) {
			return out, nil
		}
	}
}
