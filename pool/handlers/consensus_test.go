// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/vdr/ledger/wire"
	"github.com/luxfi/vdr/pool/networker"
	"github.com/luxfi/vdr/pool/reqstream"
)

func replyMsg(t *testing.T, alias, resultJSON string) networker.Event {
	t.Helper()
	raw := []byte(`{"op":"REPLY","result":` + resultJSON + `}`)
	msg, err := wire.Parse(raw)
	require.NoError(t, err)
	return networker.Event{Kind: networker.EventReceived, Alias: alias, Msg: msg}
}

func TestRunConsensusAcceptsOnQuorum(t *testing.T) {
	set := fourNodeSet(t)
	events := make(chan networker.Event, 4)
	fn := &recordingNet{}
	stream := reqstream.New(fn, "r1", events)

	events <- replyMsg(t, "Node1", `{"value":1}`)
	events <- replyMsg(t, "Node2", `{"value":1}`)

	msg, err := RunConsensus(context.Background(), stream, set, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, wire.OpReply, msg.Op)
}

func TestRunConsensusNoQuorumWhenSplit(t *testing.T) {
	set := fourNodeSet(t)
	events := make(chan networker.Event, 4)
	fn := &recordingNet{}
	stream := reqstream.New(fn, "r1", events)

	events <- replyMsg(t, "Node1", `{"value":1}`)
	events <- replyMsg(t, "Node2", `{"value":2}`)
	events <- networker.Event{Kind: networker.EventTimeout, Alias: "Node3"}
	events <- networker.Event{Kind: networker.EventTimeout, Alias: "Node4"}

	_, err := RunConsensus(context.Background(), stream, set, []byte(`{}`))
	require.Error(t, err)
}

func TestRunConsensusIgnoresStateProofInVote(t *testing.T) {
	set := fourNodeSet(t)
	events := make(chan networker.Event, 4)
	fn := &recordingNet{}
	stream := reqstream.New(fn, "r1", events)

	events <- replyMsg(t, "Node1", `{"value":1,"state_proof":{"a":1}}`)
	events <- replyMsg(t, "Node2", `{"value":1,"state_proof":{"a":2}}`)

	_, err := RunConsensus(context.Background(), stream, set, []byte(`{}`))
	require.NoError(t, err)
}
