// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package handlers

import (
	"testing"

	"github.com/luxfi/vdr/ledger/wire"
	"github.com/luxfi/vdr/pool/genesis"
)

// mustParse parses a raw wire frame, failing the test on error.
func mustParse(t *testing.T, raw string) wire.Message {
	t.Helper()
	msg, err := wire.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("wire.Parse: %v", err)
	}
	return msg
}

// recordingNet is a net implementation shared by the handler tests
// that only need to observe which calls were made, not drive real
// networker behavior.
type recordingNet struct {
	dispatched [][]string
	cleaned    []string
	finished   []string
}

func (f *recordingNet) Dispatch(id string, aliases []string, payload []byte) {
	f.dispatched = append(f.dispatched, aliases)
}
func (f *recordingNet) ExtendTimeout(id, alias string) {}
func (f *recordingNet) CleanTimeout(id, alias string)  { f.cleaned = append(f.cleaned, alias) }
func (f *recordingNet) FinishRequest(id string)        { f.finished = append(f.finished, id) }

// fourNodeSet builds a 4-validator set (n=4, f=1) with no BLS keys,
// enough for the vote-counting paths every handler but the
// state-proof branch of single needs.
func fourNodeSet(t *testing.T) *genesis.Set {
	t.Helper()
	validators := map[string]genesis.ValidatorInfo{
		"Node1": {Alias: "Node1"},
		"Node2": {Alias: "Node2"},
		"Node3": {Alias: "Node3"},
		"Node4": {Alias: "Node4"},
	}
	set, err := genesis.NewSet(validators)
	if err != nil {
		t.Fatalf("genesis.NewSet: %v", err)
	}
	return set
}
