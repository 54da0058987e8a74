// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package choosenodes implements the node-selection policy spec §4.2
// calls out as living in the handlers/facade, not the networker: a
// weighted-random permutation of validator aliases, used whenever a
// handler needs "one more node" or an initial subset rather than a
// full broadcast.
package choosenodes

import "math/rand"

// Choose returns up to count aliases from candidates, in the order
// they would be tried, selected without replacement with probability
// proportional to weights[alias] (weight 1 for any alias absent from
// the map or mapped to a weight <= 0). Zeroing a weight after each pick and
// re-normalizing over the remainder is the classic roulette-wheel
// sampling algorithm, yielding a random permutation biased by
// node_weights rather than a uniform shuffle.
func Choose(candidates []string, weights map[string]float64, count int, rng *rand.Rand) []string {
	if count > len(candidates) {
		count = len(candidates)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	remaining := make([]string, len(candidates))
	copy(remaining, candidates)
	w := make([]float64, len(remaining))
	total := 0.0
	for i, a := range remaining {
		ww := weights[a]
		if ww <= 0 {
			ww = 1
		}
		w[i] = ww
		total += ww
	}

	out := make([]string, 0, count)
	for len(out) < count && len(remaining) > 0 {
		pick := rng.Float64() * total
		idx := 0
		for ; idx < len(remaining)-1; idx++ {
			if pick < w[idx] {
				break
			}
			pick -= w[idx]
		}
		out = append(out, remaining[idx])
		total -= w[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)
		w = append(w[:idx], w[idx+1:]...)
	}
	return out
}
