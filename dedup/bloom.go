package dedup

import (
	"math"

	"github.com/bits-and-blooms/bitset"
)

// bloomFilter is the probabilistic prefilter of the replay detector. The bit
// array size and the number of hash functions follow the standard formulas
// m = -n*ln(p)/(ln 2)^2 and k = round((m/n)*ln 2).
type bloomFilter struct {
	bits *bitset.BitSet
	m    uint32
	k    int
}

func newBloomFilter(n int, p float64) *bloomFilter {
	m := uint32(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &bloomFilter{
		bits: bitset.New(uint(m)),
		m:    m,
		k:    k,
	}
}

func (f *bloomFilter) add(base int32) {
	for seed := range f.k {
		f.bits.Set(uint(f.index(base, int32(seed))))
	}
}

func (f *bloomFilter) test(base int32) bool {
	for seed := range f.k {
		if !f.bits.Test(uint(f.index(base, int32(seed)))) {
			return false
		}
	}
	return true
}

// index derives the bit position for one hash function by mixing the base
// hash with the seed through the 32-bit murmur finaliser.
func (f *bloomFilter) index(base, seed int32) uint32 {
	h := mix32(base ^ seed)
	if h < 0 {
		h = -h
		if h < 0 { // math.MinInt32 has no positive counterpart
			h = 0
		}
	}
	return uint32(h) % f.m
}

// mix32 is the canonical 32-bit finaliser with wrapping multiplication.
func mix32(h int32) int32 {
	u := uint32(h)
	u ^= u >> 16
	u *= 0x85ebca6b
	u ^= u >> 13
	u *= 0xc2b2ae35
	u ^= u >> 16
	return int32(u)
}
