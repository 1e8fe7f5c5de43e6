package dedup

import (
	"sync"
	"sync/atomic"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
)

func TestBloomSizing(t *testing.T) {
	c := qt.New(t)
	// n=10^7, p=10^-3: m = -n*ln(p)/(ln 2)^2 ≈ 1.4378e8 bits, k = 10.
	f := newBloomFilter(10_000_000, 0.001)
	c.Assert(f.m > 143_775_000 && f.m < 143_776_000, qt.IsTrue)
	c.Assert(f.k, qt.Equals, 10)
}

func TestMix32Finaliser(t *testing.T) {
	c := qt.New(t)
	// Fixed points of the finaliser constants: mixing must be deterministic
	// and spread nearby inputs.
	c.Assert(mix32(0), qt.Equals, int32(0))
	c.Assert(mix32(1), qt.Not(qt.Equals), mix32(2))
	c.Assert(mix32(1), qt.Equals, mix32(1))
	seen := map[int32]bool{}
	for i := int32(0); i < 1000; i++ {
		seen[mix32(i)] = true
	}
	c.Assert(len(seen), qt.Equals, 1000)
}

func TestCheckAndRegister(t *testing.T) {
	c := qt.New(t)
	d := New(Options{ExpectedBallots: 100_000})

	id := uuid.New()
	c.Assert(d.CheckAndRegister(id), qt.IsTrue)
	c.Assert(d.CheckAndRegister(id), qt.IsFalse)
	c.Assert(d.Seen(id), qt.IsTrue)
	c.Assert(d.Seen(uuid.New()), qt.IsFalse)
	c.Assert(d.Size(), qt.Equals, 1)
}

func TestSmallPopulationSkipsPrefilter(t *testing.T) {
	c := qt.New(t)
	d := New(Options{ExpectedBallots: 100})
	c.Assert(d.filter, qt.IsNil)

	// Behavior is unchanged without the prefilter.
	id := uuid.New()
	c.Assert(d.CheckAndRegister(id), qt.IsTrue)
	c.Assert(d.CheckAndRegister(id), qt.IsFalse)
}

func TestUnregister(t *testing.T) {
	c := qt.New(t)
	d := New(Options{ExpectedBallots: 100_000})

	id := uuid.New()
	c.Assert(d.CheckAndRegister(id), qt.IsTrue)
	d.Unregister(id)
	// The prefilter may remember the id, but the exact set rules.
	c.Assert(d.CheckAndRegister(id), qt.IsTrue)
	c.Assert(d.CheckAndRegister(id), qt.IsFalse)
}

func TestRestore(t *testing.T) {
	c := qt.New(t)
	ids := make([]uuid.UUID, 100)
	for i := range ids {
		ids[i] = uuid.New()
	}
	d := New(Options{ExpectedBallots: 100_000})
	d.Restore(ids)
	c.Assert(d.Size(), qt.Equals, 100)
	for _, id := range ids {
		c.Assert(d.CheckAndRegister(id), qt.IsFalse)
	}
}

func TestConcurrentSameID(t *testing.T) {
	c := qt.New(t)
	d := New(Options{ExpectedBallots: 100_000})

	const workers = 32
	id := uuid.New()
	var news atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if d.CheckAndRegister(id) {
				news.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	c.Assert(news.Load(), qt.Equals, int64(1))
}

func TestConcurrentDistinctIDs(t *testing.T) {
	c := qt.New(t)
	d := New(Options{ExpectedBallots: 100_000})

	const workers = 16
	const perWorker = 500
	var news atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				if d.CheckAndRegister(uuid.New()) {
					news.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	c.Assert(news.Load(), qt.Equals, int64(workers*perWorker))
	c.Assert(d.Size(), qt.Equals, workers*perWorker)
}

func TestNoFalseNegatives(t *testing.T) {
	c := qt.New(t)
	f := newBloomFilter(10_000, 0.001)
	bases := make([]int32, 5000)
	for i := range bases {
		bases[i] = baseHash(uuid.New())
		f.add(bases[i])
	}
	for _, b := range bases {
		c.Assert(f.test(b), qt.IsTrue)
	}
}
