// Package dedup implements the tallier replay detector: a two-stage set made
// of a Bloom-style prefilter and an exact membership set of 128-bit ballot
// ids. A ballot id is admitted exactly once across concurrent callers.
package dedup

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultExpectedBallots sizes the prefilter for a nation-scale count.
	DefaultExpectedBallots = 10_000_000
	// DefaultFalsePositiveRate is the prefilter target false-positive rate.
	DefaultFalsePositiveRate = 0.001
	// prefilterMinPopulation is the expected population below which the
	// prefilter is wasteful and the detector runs on the exact set alone.
	prefilterMinPopulation = 10_000
)

// Options tune the detector sizing.
type Options struct {
	ExpectedBallots   int
	FalsePositiveRate float64
}

// Detector decides atomically whether a ballot id has been seen before.
type Detector struct {
	mu     sync.Mutex
	filter *bloomFilter // nil when the expected population is small
	exact  map[uuid.UUID]struct{}
}

// New returns a Detector sized for the given options. Zero values fall back
// to the defaults.
func New(opts Options) *Detector {
	n := opts.ExpectedBallots
	if n <= 0 {
		n = DefaultExpectedBallots
	}
	p := opts.FalsePositiveRate
	if p <= 0 || p >= 1 {
		p = DefaultFalsePositiveRate
	}
	d := &Detector{
		exact: make(map[uuid.UUID]struct{}),
	}
	if n >= prefilterMinPopulation {
		d.filter = newBloomFilter(n, p)
	}
	return d
}

// CheckAndRegister reports whether id is new, registering it if so. Two
// concurrent invocations with the same id observe new exactly once.
func (d *Detector) CheckAndRegister(id uuid.UUID) (isNew bool) {
	base := baseHash(id)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.filter != nil && !d.filter.test(base) {
		// Definitely new: the prefilter cannot produce false negatives.
		d.filter.add(base)
		d.exact[id] = struct{}{}
		return true
	}
	if _, seen := d.exact[id]; seen {
		return false
	}
	if d.filter != nil {
		d.filter.add(base)
	}
	d.exact[id] = struct{}{}
	return true
}

// Seen reports whether id has already been registered, without registering.
func (d *Detector) Seen(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, seen := d.exact[id]
	return seen
}

// Unregister removes an id from the exact set, rolling back a registration
// whose ballot was later refused. The prefilter keeps its bits: it may then
// report the id as possibly present, and the exact set gives the truth.
func (d *Detector) Unregister(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.exact, id)
}

// Restore preloads ids into both stages, used at startup to rebuild the
// detector from the persisted mirror.
func (d *Detector) Restore(ids []uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if d.filter != nil {
			d.filter.add(baseHash(id))
		}
		d.exact[id] = struct{}{}
	}
}

// Size returns the number of distinct ids registered.
func (d *Detector) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.exact)
}

// baseHash folds the 128-bit id into a signed 32-bit base hash by xoring its
// four big-endian words.
func baseHash(id uuid.UUID) int32 {
	return int32(binary.BigEndian.Uint32(id[0:4]) ^
		binary.BigEndian.Uint32(id[4:8]) ^
		binary.BigEndian.Uint32(id[8:12]) ^
		binary.BigEndian.Uint32(id[12:16]))
}
