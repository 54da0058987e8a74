// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stateproof

import (
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// decodeHexOrBase58 accepts either a hex or base58 encoding for a
// root hash or signature: the wire schema doesn't pin one encoding
// for these fields, so a proof is accepted under whichever form
// decodes cleanly, hex tried first since root hashes are typically
// hex in the upstream ledger's JSON.
func decodeHexOrBase58(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("neither valid hex nor base58: %q", s)
	}
	return b, nil
}
