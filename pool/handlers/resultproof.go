// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handlers

import (
	"encoding/json"
	"fmt"
)

// replyResult splits a REPLY's raw frame into its full result (state
// proof intact, handed to the state-proof verifier) and a canonical
// re-encoding with state_proof/data.stateProofFrom stripped, used to
// bucket replies that agree on substance even if their proof material
// differs, per the single and consensus handlers' voting rule.
func replyResult(raw []byte) (result json.RawMessage, withoutProof string, err error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, "", fmt.Errorf("malformed reply: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil, "", fmt.Errorf("reply has no result")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(envelope.Result, &obj); err != nil {
		return nil, "", fmt.Errorf("result is not a JSON object: %w", err)
	}
	delete(obj, "state_proof")
	if rawData, ok := obj["data"]; ok {
		var data map[string]json.RawMessage
		if err := json.Unmarshal(rawData, &data); err == nil {
			delete(data, "stateProofFrom")
			encoded, err := json.Marshal(data)
			if err != nil {
				return nil, "", fmt.Errorf("re-encode data: %w", err)
			}
			obj["data"] = encoded
		}
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return nil, "", fmt.Errorf("re-encode result: %w", err)
	}
	return envelope.Result, string(encoded), nil
}

// lastWriteTime extracts the timestamp a reply's own state proof (or,
// failing that, its v1 multiSignature envelope) was signed at, used to
// pick the freshest reply among a bucket of agreeing ones. The
// freshness check reads its own timestamp from the proof inside
// stateproof.Verify and does not use this value.
func lastWriteTime(result json.RawMessage) int64 {
	var v0 struct {
		StateProof struct {
			MultiSignature struct {
				Value struct {
					Timestamp int64 `json:"timestamp"`
				} `json:"value"`
			} `json:"multi_signature"`
		} `json:"state_proof"`
	}
	if err := json.Unmarshal(result, &v0); err == nil && v0.StateProof.MultiSignature.Value.Timestamp != 0 {
		return v0.StateProof.MultiSignature.Value.Timestamp
	}

	var v1 struct {
		MultiSignature struct {
			SignedState struct {
				StateMetadata struct {
					Timestamp int64 `json:"timestamp"`
				} `json:"stateMetadata"`
			} `json:"signedState"`
		} `json:"multiSignature"`
	}
	if err := json.Unmarshal(result, &v1); err == nil {
		return v1.MultiSignature.SignedState.StateMetadata.Timestamp
	}
	return 0
}
