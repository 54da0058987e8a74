// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handlers

import (
	"context"
	"encoding/hex"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/vdr/ledger/merkle"
	"github.com/luxfi/vdr/ledger/wire"
	"github.com/luxfi/vdr/pool/networker"
	"github.com/luxfi/vdr/pool/reqstream"
)

func ledgerStatusMsg(t *testing.T, alias string, root [32]byte, size int) networker.Event {
	t.Helper()
	raw := []byte(`{"op":"LEDGER_STATUS","ledgerId":1,"txnSeqNo":` +
		strconv.Itoa(size) + `,"merkleRoot":"` + hex.EncodeToString(root[:]) + `"}`)
	msg, err := wire.Parse(raw)
	require.NoError(t, err)
	return networker.Event{Kind: networker.EventReceived, Alias: alias, Msg: msg}
}

func TestRunStatusReportsSyncedOnQuorum(t *testing.T) {
	set := fourNodeSet(t)
	tree := merkle.FromTxns([][]byte{[]byte(`"txn1"`)})
	events := make(chan networker.Event, 4)
	fn := &recordingNet{}
	stream := reqstream.New(fn, "r1", events)

	root := tree.RootHash()
	events <- ledgerStatusMsg(t, "Node1", root, 1)
	events <- ledgerStatusMsg(t, "Node2", root, 1)

	out, err := RunStatus(context.Background(), stream, tree, set, "r1", 1)
	require.NoError(t, err)
	require.True(t, out.Synced)
}

func TestRunStatusFindsCatchupTarget(t *testing.T) {
	set := fourNodeSet(t)
	local := merkle.New()
	ahead := merkle.FromTxns([][]byte{[]byte(`"txn1"`)})
	events := make(chan networker.Event, 4)
	fn := &recordingNet{}
	stream := reqstream.New(fn, "r1", events)

	root := ahead.RootHash()
	events <- ledgerStatusMsg(t, "Node1", root, 1)
	events <- ledgerStatusMsg(t, "Node2", root, 1)

	out, err := RunStatus(context.Background(), stream, local, set, "r1", 1)
	require.NoError(t, err)
	require.True(t, out.HasTarget)
	require.Equal(t, 1, out.TargetSize)
	require.Equal(t, root, out.TargetRoot)
}

func TestRunStatusNoConsensusWhenSplit(t *testing.T) {
	set := fourNodeSet(t)
	tree := merkle.New()
	events := make(chan networker.Event, 4)
	fn := &recordingNet{}
	stream := reqstream.New(fn, "r1", events)

	root1 := merkle.FromTxns([][]byte{[]byte(`"a"`)}).RootHash()
	root2 := merkle.FromTxns([][]byte{[]byte(`"b"`)}).RootHash()
	events <- ledgerStatusMsg(t, "Node1", root1, 1)
	events <- ledgerStatusMsg(t, "Node2", root2, 1)
	events <- networker.Event{Kind: networker.EventTimeout, Alias: "Node3"}
	events <- networker.Event{Kind: networker.EventTimeout, Alias: "Node4"}

	_, err := RunStatus(context.Background(), stream, tree, set, "r1", 1)
	require.Error(t, err)
}
