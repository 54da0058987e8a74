// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/vdr/pool/handlers"
)

// formatFullReply renders a full-mode outcome map as a single JSON
// object keyed by node alias, each value the node's raw reply/failure
// frame or a null for a timed-out node.
func formatFullReply(out map[string]handlers.NodeOutcome) ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(out))
	for alias, outcome := range out {
		switch {
		case outcome.Reply != nil:
			obj[alias] = outcome.Reply
		case outcome.Failed != nil:
			obj[alias] = outcome.Failed
		default:
			obj[alias] = json.RawMessage("null")
		}
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("pool: format full reply: %w", err)
	}
	return encoded, nil
}
