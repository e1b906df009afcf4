// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package antientropy

import "math/rand"

// uniformSampler picks one peer index uniformly at random from a
// configured count, one pick per anti-entropy tick.
type uniformSampler struct {
	rng *rand.Rand
}

// newUniformSampler returns a sampler seeded from the process-wide source.
func newUniformSampler() *uniformSampler {
	return &uniformSampler{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// Pick returns a random index in [0, count). count must be > 0.
func (u *uniformSampler) Pick(count int) int {
	return u.rng.Intn(count)
}
