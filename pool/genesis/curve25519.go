// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genesis

import (
	"fmt"

	"filippo.io/edwards25519"
)

// verkeyToCurve25519 derives the Curve25519 (X25519) encryption key a
// validator's socket is reached at from its Ed25519 verkey, using the
// standard birational map between the twisted Edwards curve and its
// Montgomery form: decode the compressed Edwards point, then take its
// Montgomery u-coordinate.
func verkeyToCurve25519(verkey []byte) ([32]byte, error) {
	var out [32]byte
	if len(verkey) != 32 {
		return out, fmt.Errorf("verkey must be 32 bytes, got %d", len(verkey))
	}
	p, err := new(edwards25519.Point).SetBytes(verkey)
	if err != nil {
		return out, fmt.Errorf("verkey is not a valid Ed25519 point: %w", err)
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}
