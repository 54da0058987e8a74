// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genesis

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

func genesisLineV1(t *testing.T, alias string, services []string) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	type data struct {
		Alias      string   `json:"alias"`
		ClientIP   string   `json:"client_ip"`
		ClientPort int      `json:"client_port"`
		Services   []string `json:"services,omitempty"`
	}
	body := map[string]interface{}{
		"txn": map[string]interface{}{
			"data": map[string]interface{}{
				"data": data{Alias: alias, ClientIP: "127.0.0.1", ClientPort: 9701, Services: services},
				"dest": base58.Encode(pub),
			},
		},
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return string(b)
}

func TestParseSkipsNonValidators(t *testing.T) {
	lines := []string{
		genesisLineV1(t, "Node1", []string{"VALIDATOR"}),
		genesisLineV1(t, "Node2", nil),
	}
	var warnings []string
	set, err := Parse(lines, func(msg string) { warnings = append(warnings, msg) })
	require.NoError(t, err)
	require.Equal(t, 1, set.N())
	require.Len(t, warnings, 1)
	require.True(t, strings.Contains(warnings[0], "Node2"))
}

func TestParseDerivesEncKey(t *testing.T) {
	lines := []string{genesisLineV1(t, "Node1", []string{"VALIDATOR"})}
	set, err := Parse(lines, nil)
	require.NoError(t, err)
	vi, ok := set.Get("Node1")
	require.True(t, ok)
	require.NotEqual(t, [32]byte{}, vi.EncKey)
	require.Equal(t, "tcp://127.0.0.1:9701", vi.ClientAddr)
}

func TestNAndF(t *testing.T) {
	var lines []string
	for i := 0; i < 7; i++ {
		lines = append(lines, genesisLineV1(t, fmt.Sprintf("Node%d", i), []string{"VALIDATOR"}))
	}
	set, err := Parse(lines, nil)
	require.NoError(t, err)
	require.Equal(t, 7, set.N())
	require.Equal(t, 2, set.F()) // (7-1)/3 = 2
}

func TestParseRejectsEmptySet(t *testing.T) {
	_, err := Parse(nil, nil)
	require.Error(t, err)
}

func TestParseV0Schema(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	line := fmt.Sprintf(`{"data":{"alias":"Node1","client_ip":"10.0.0.1","client_port":9702,"services":["VALIDATOR"]},"dest":%q}`,
		base58.Encode(pub))
	set, err := Parse([]string{line}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, set.N())
	vi, _ := set.Get("Node1")
	require.Equal(t, "tcp://10.0.0.1:9702", vi.ClientAddr)
}
