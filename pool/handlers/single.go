// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/luxfi/vdr/ledger/stateproof"
	"github.com/luxfi/vdr/ledger/wire"
	"github.com/luxfi/vdr/pool/choosenodes"
	"github.com/luxfi/vdr/pool/genesis"
	"github.com/luxfi/vdr/pool/networker"
	"github.com/luxfi/vdr/pool/perr"
	"github.com/luxfi/vdr/pool/reqstream"
)

// SingleConfig carries the knobs the single-reply handler needs beyond
// the networker's own ack/reply timeouts, per spec §4.6.
type SingleConfig struct {
	RequestReadNodes   int
	FreshnessThreshold time.Duration
}

type singleBucket struct {
	soonestRaw []byte
	timestamp  int64
	count      int
}

// RunSingle drives the single-reply handler: accepts on either f+1
// agreeing replies or one reply whose state proof verifies, per spec
// §4.6. A decode or format failure on a reply counts as a failed node
// rather than aborting the request, mirroring a rejected/timed-out
// peer.
func RunSingle(ctx context.Context, stream *reqstream.Stream, validators *genesis.Set, spKey []byte, window stateproof.Window, cfg SingleConfig, rng *rand.Rand, reqPayload []byte) (json.RawMessage, error) {
	f := validators.F()
	n := validators.N()
	all := validators.Aliases()

	initial := choosenodes.Choose(all, nil, cfg.RequestReadNodes, rng)
	tried := map[string]bool{}
	for _, a := range initial {
		tried[a] = true
	}
	stream.Dispatch(initial, reqPayload)

	buckets := map[string]*singleBucket{}
	replied := 0
	failed := 0

	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			return nil, perr.InvalidState("single: request ended prematurely")
		}

		resend := false
		switch ev.Kind {
		case networker.EventReceived:
			switch ev.Msg.Op {
			case wire.OpReply:
				result, key, err := replyResult(ev.Msg.Raw)
				if err != nil {
					failed++
					stream.CleanTimeout(ev.Alias)
					resend = true
					break
				}
				replied++
				ts := lastWriteTime(result)
				b, exists := buckets[key]
				if !exists {
					b = &singleBucket{soonestRaw: ev.Msg.Raw, timestamp: ts}
					buckets[key] = b
				}
				b.count++
				if ts > b.timestamp {
					b.timestamp = ts
					b.soonestRaw = ev.Msg.Raw
				}

				if b.count > f {
					return rawResult(b.soonestRaw)
				}
				if res := stateproof.Verify(result, spKey, []byte(key), validators, window, cfg.FreshnessThreshold, time.Now()); res.Ok {
					return rawResult(ev.Msg.Raw)
				}
			case wire.OpReqNACK, wire.OpReject:
				failed++
				stream.CleanTimeout(ev.Alias)
				resend = true
			default:
				failed++
				stream.CleanTimeout(ev.Alias)
				resend = true
			}
		case networker.EventTimeout, networker.EventNetworkError:
			failed++
			resend = true
		}

		if replied+failed >= n {
			return nil, perr.NoConsensus("single: no consensus reached")
		}
		if resend {
			candidates := remainingCandidates(all, tried)
			pick := choosenodes.Choose(candidates, nil, 1, rng)
			for _, a := range pick {
				tried[a] = true
			}
			if len(pick) > 0 {
				stream.Dispatch(pick, reqPayload)
			}
		}
	}
}

func remainingCandidates(all []string, tried map[string]bool) []string {
	out := make([]string, 0, len(all))
	for _, a := range all {
		if !tried[a] {
			out = append(out, a)
		}
	}
	return out
}

func rawResult(raw []byte) (json.RawMessage, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("single: re-decode accepted reply: %w", err)
	}
	return envelope.Result, nil
}
