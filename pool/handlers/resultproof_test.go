// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handlers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplyResultStripsStateProof(t *testing.T) {
	raw := []byte(`{"op":"REPLY","result":{"value":1,"state_proof":{"root_hash":"abc"}}}`)
	result, withoutProof, err := replyResult(raw)
	require.NoError(t, err)
	require.JSONEq(t, `{"value":1,"state_proof":{"root_hash":"abc"}}`, string(result))
	require.JSONEq(t, `{"value":1}`, withoutProof)
}

func TestReplyResultStripsNestedStateProofFrom(t *testing.T) {
	raw := []byte(`{"op":"REPLY","result":{"data":{"value":2,"stateProofFrom":{"x":1}}}}`)
	_, withoutProof, err := replyResult(raw)
	require.NoError(t, err)
	require.JSONEq(t, `{"data":{"value":2}}`, withoutProof)
}

func TestReplyResultRejectsMissingResult(t *testing.T) {
	_, _, err := replyResult([]byte(`{"op":"REPLY"}`))
	require.Error(t, err)
}

func TestLastWriteTimeV0Shape(t *testing.T) {
	result := []byte(`{"state_proof":{"multi_signature":{"value":{"timestamp":42}}}}`)
	require.EqualValues(t, 42, lastWriteTime(result))
}

func TestLastWriteTimeV1Shape(t *testing.T) {
	result := []byte(`{"multiSignature":{"signedState":{"stateMetadata":{"timestamp":77}}}}`)
	require.EqualValues(t, 77, lastWriteTime(result))
}
