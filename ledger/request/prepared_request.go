// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package request defines PreparedRequest, the value the external
// request builder (out of scope, see spec §6) produces and the pool
// dispatches. Only the signing helpers here mutate it further.
package request

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion gates request framing. It is a separate type with
// the same values as genesis.ProtocolVersion, so callers don't need to
// import pool/genesis just for the constant.
type ProtocolVersion int

const (
	ProtocolV1 ProtocolVersion = 1
	ProtocolV2 ProtocolVersion = 2
)

// TimestampRange is an optional (from, to) window for a ranged
// state-proof request.
type TimestampRange struct {
	From *int64
	To   *int64
}

// PreparedRequest is the builder's output: a request ready to
// dispatch, carrying enough metadata for the pool to pick a handler
// and, for reads, to evaluate a returned state proof.
type PreparedRequest struct {
	ProtocolVersion ProtocolVersion
	TxnType         string
	// ReqID is a process-unique correlation string, placed in ReqJSON
	// under "reqId" by the builder and echoed by validators in
	// replies.
	ReqID string
	// ReqJSON is the canonical JSON object to send: reqId,
	// operation.type, optional identifier/protocolVersion, plus
	// whatever signing helpers add.
	ReqJSON json.RawMessage
	// SPKey identifies the target trie leaf for a state-proofed read,
	// nil for requests with no applicable state proof.
	SPKey []byte
	// SPTimestamps is the optional ranged-proof window.
	SPTimestamps *TimestampRange
	IsRead       bool
}

// Method reports which pool handler should service this request,
// matching the facade's dispatch rule in spec §4.10: an explicit full
// multi-reply mode takes priority, then a present SPKey routes to the
// single (state-proofed) handler, and everything else goes through
// consensus.
type Method int

const (
	MethodConsensus Method = iota
	MethodSingle
	MethodFull
)

// Prepared pairs a PreparedRequest with its handler-selection
// metadata. The builder constructs plain PreparedRequests; only
// setting Full marks full-multi-reply mode (e.g. for an
// application-level broadcast read that wants every node's raw
// answer instead of a single decided result).
type Prepared struct {
	PreparedRequest
	Full bool
}

// Method implements the §4.10 dispatch rule.
func (p *Prepared) Method() Method {
	switch {
	case p.Full:
		return MethodFull
	case len(p.SPKey) > 0:
		return MethodSingle
	default:
		return MethodConsensus
	}
}

// Signature is added to ReqJSON by a signing helper. Multi-sig
// requests use Signatures (identifier -> base58 signature) instead.
type signedFields struct {
	Signature     *string           `json:"signature,omitempty"`
	Signatures    map[string]string `json:"signatures,omitempty"`
	Endorser      *string           `json:"endorser,omitempty"`
	TAAAcceptance json.RawMessage   `json:"taaAcceptance,omitempty"`
}

// AddSignature attaches a single-signer signature (base58) to the
// request JSON, as a builder-external signing helper would after the
// application signs the canonical request bytes.
func (p *Prepared) AddSignature(identifier, sigBase58 string) error {
	return p.mergeFields(signedFields{Signature: &sigBase58})
}

// AddMultiSignature attaches one signer's signature to a
// multi-signature request, keyed by identifier.
func (p *Prepared) AddMultiSignature(identifier, sigBase58 string) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(p.ReqJSON, &m); err != nil {
		return fmt.Errorf("prepared request: %w", err)
	}
	sigs := map[string]string{}
	if raw, ok := m["signatures"]; ok {
		if err := json.Unmarshal(raw, &sigs); err != nil {
			return fmt.Errorf("prepared request: existing signatures: %w", err)
		}
	}
	sigs[identifier] = sigBase58
	encoded, err := json.Marshal(sigs)
	if err != nil {
		return err
	}
	m["signatures"] = encoded
	return p.setFields(m)
}

// SetEndorser attaches an endorser DID to the request.
func (p *Prepared) SetEndorser(endorser string) error {
	return p.mergeFields(signedFields{Endorser: &endorser})
}

// SetTAAAcceptance attaches a transaction-author-agreement
// acknowledgement blob, verbatim JSON produced by the caller.
func (p *Prepared) SetTAAAcceptance(taa json.RawMessage) error {
	return p.mergeFields(signedFields{TAAAcceptance: taa})
}

func (p *Prepared) mergeFields(fields signedFields) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(p.ReqJSON, &m); err != nil {
		return fmt.Errorf("prepared request: %w", err)
	}
	if fields.Signature != nil {
		enc, _ := json.Marshal(*fields.Signature)
		m["signature"] = enc
	}
	if fields.Endorser != nil {
		enc, _ := json.Marshal(*fields.Endorser)
		m["endorser"] = enc
	}
	if fields.TAAAcceptance != nil {
		m["taaAcceptance"] = fields.TAAAcceptance
	}
	return p.setFields(m)
}

func (p *Prepared) setFields(m map[string]json.RawMessage) error {
	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("prepared request: re-encode: %w", err)
	}
	p.ReqJSON = encoded
	return nil
}
