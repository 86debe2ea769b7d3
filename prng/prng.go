// Package prng implements deterministic splittable random keys.
//
// References:
//   - Fast splittable pseudorandom number generators, Guy L. Steele Jr., Doug Lea, Christine H. Flood
package prng

import (
	"math/bits"
	"math/rand/v2"
)

// goldenGamma is the odd approximation of 2^64/phi, the default gamma in Steele et al.
const goldenGamma = 0x9e3779b97f4a7c15

// Key is an immutable random key.
// Splitting a key yields a sub-key for immediate consumption and a
// continuation key; no key is ever reused across splits.
type Key struct {
	state uint64
	gamma uint64
}

// New returns a key derived from seed.
func New(seed uint64) Key {
	return Key{state: mix64(seed), gamma: mixGamma(seed + goldenGamma)}
}

// Split returns a fresh independent sub-key and the continuation key.
// The continuation advances state by gamma, so the state sequence has full
// 2^64 period and every sub-key state is the mix of a distinct input.
func (k Key) Split() (Key, Key) {
	s := k.state + k.gamma
	next := Key{state: s, gamma: k.gamma}
	sub := Key{state: mix64(s), gamma: mixGamma(s + k.gamma)}
	return sub, next
}

// Uint64 returns the pseudorandom value of the key itself.
func (k Key) Uint64() uint64 {
	return mix64(k.state ^ k.gamma)
}

// RNG adapts the key to a math/rand/v2 generator.
// The generator is freshly constructed, so two calls on the same key yield
// identical streams.
func (k Key) RNG() *rand.Rand {
	return rand.New(rand.NewPCG(k.state, k.gamma))
}

// mix64 is the MurmurHash3 finalizer variant from Steele et al.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 33)) * 0xff51afd7ed558ccd
	z = (z ^ (z >> 33)) * 0xc4ceb9fe1a85ec53
	return z ^ (z >> 33)
}

// mixGamma derives an odd gamma with enough bit transitions.
func mixGamma(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z = (z ^ (z >> 31)) | 1
	if bits.OnesCount64(z^(z>>1)) < 24 {
		z ^= 0xaaaaaaaaaaaaaaaa
	}
	return z
}
