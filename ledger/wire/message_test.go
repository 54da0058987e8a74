// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePing(t *testing.T) {
	m, err := Parse([]byte(`"pi"`))
	require.NoError(t, err)
	require.Equal(t, OpPing, m.Op)

	m, err = Parse([]byte("pi"))
	require.NoError(t, err)
	require.Equal(t, OpPing, m.Op)
}

func TestParseLedgerStatusRoundTrip(t *testing.T) {
	raw := []byte(`{"op":"LEDGER_STATUS","ledgerId":1,"txnSeqNo":10,"merkleRoot":"abc"}`)
	m, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, OpLedgerStatus, m.Op)
	require.NotNil(t, m.LedgerStatus)
	require.Equal(t, 10, m.LedgerStatus.Txn_seq_no)
	require.Equal(t, "abc", m.LedgerStatus.MerkleRoot)

	enc, err := Serialize(m.LedgerStatus)
	require.NoError(t, err)
	m2, err := Parse(enc)
	require.NoError(t, err)
	require.Equal(t, *m.LedgerStatus, *m2.LedgerStatus)
}

func TestParseCatchupRep(t *testing.T) {
	raw := []byte(`{"op":"CATCHUP_REP","ledgerId":1,"consProof":["h1","h2"],"txns":{"11":{"a":1},"12":{"a":2}}}`)
	m, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, m.CatchupRep)
	require.Len(t, m.CatchupRep.Txns, 2)
	require.Len(t, m.CatchupRep.ConsProof, 2)
}

func TestParseUnknownOp(t *testing.T) {
	_, err := Parse([]byte(`{"op":"BOGUS"}`))
	require.ErrorIs(t, err, ErrUnknownOp)
}

func TestRequestID(t *testing.T) {
	id, err := RequestID([]byte(`{"reqId":123456789,"operation":{"type":"1"}}`))
	require.NoError(t, err)
	require.Equal(t, "123456789", id)

	_, err = RequestID([]byte(`{"operation":{"type":"1"}}`))
	require.Error(t, err)
}

func TestRequestIDNestedUnderTxnMetadata(t *testing.T) {
	id, err := RequestID([]byte(`{"data":{"ver":1},"txn":{"data":{},"metadata":{"reqId":987654321,"from":"Node1"}}}`))
	require.NoError(t, err)
	require.Equal(t, "987654321", id)
}
