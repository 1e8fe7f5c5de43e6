// Package aggregate keeps the running tallies of counted ballots: per
// candidate, per station, and global received/counted totals.
package aggregate

import (
	"sync"
	"sync/atomic"

	"github.com/recuento/recuento-node/types"
)

// Aggregator accumulates tallies. The per-candidate and per-station maps are
// updated together under the write lock and read under the read lock, so they
// always agree with each other. The received and counted totals are atomic
// counters updated outside the lock, so a snapshot may show them one step
// apart from the maps.
type Aggregator struct {
	mu               sync.RWMutex
	byCandidate      map[string]uint64
	byStation        map[string]uint64
	receivedTotal    atomic.Uint64
	countedTotal     atomic.Uint64
	registeredVoters uint64
}

// Summary is a point-in-time view of all tallies.
type Summary struct {
	ByCandidate   map[string]uint64  `json:"byCandidate"`
	ByStation     map[string]uint64  `json:"byStation"`
	Percentages   map[string]float64 `json:"percentages"`
	ReceivedTotal uint64             `json:"receivedTotal"`
	CountedTotal  uint64             `json:"countedTotal"`
	Turnout       float64            `json:"turnoutPercent"`
}

// New returns an Aggregator. registeredVoters is the out-of-band electoral
// roll size used for turnout; zero disables the turnout percentage.
func New(registeredVoters uint64) *Aggregator {
	return &Aggregator{
		byCandidate:      make(map[string]uint64),
		byStation:        make(map[string]uint64),
		registeredVoters: registeredVoters,
	}
}

// IncrementReceived records a ballot entering the pipeline, after the dedup
// stage admitted it.
func (a *Aggregator) IncrementReceived() {
	a.receivedTotal.Add(1)
}

// Count tallies a decrypted ballot and marks it counted. Returns false if the
// ballot has no decrypted candidate, leaving every counter untouched.
func (a *Aggregator) Count(rb *types.ReceivedBallot) bool {
	if rb.DecryptedCandidateID == "" {
		return false
	}
	a.mu.Lock()
	a.byCandidate[rb.DecryptedCandidateID]++
	a.byStation[rb.StationID]++
	a.mu.Unlock()
	a.countedTotal.Add(1)
	rb.Counted = true
	return true
}

// ResultsByCandidate returns a copy of the per-candidate tallies.
func (a *Aggregator) ResultsByCandidate() map[string]uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyCounts(a.byCandidate)
}

// ResultsByStation returns a copy of the per-station tallies.
func (a *Aggregator) ResultsByStation() map[string]uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyCounts(a.byStation)
}

// PercentagesByCandidate returns each candidate's share of the counted total.
func (a *Aggregator) PercentagesByCandidate() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return percentages(a.byCandidate)
}

// TurnoutPercent returns counted ballots over registered voters, or zero when
// no roll size was configured.
func (a *Aggregator) TurnoutPercent() float64 {
	if a.registeredVoters == 0 {
		return 0
	}
	return float64(a.countedTotal.Load()) / float64(a.registeredVoters) * 100
}

// ReceivedTotal returns the number of ballots that entered the pipeline.
func (a *Aggregator) ReceivedTotal() uint64 {
	return a.receivedTotal.Load()
}

// CountedTotal returns the number of ballots counted.
func (a *Aggregator) CountedTotal() uint64 {
	return a.countedTotal.Load()
}

// Summary snapshots every tally under a single read lock.
func (a *Aggregator) Summary() *Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return &Summary{
		ByCandidate:   copyCounts(a.byCandidate),
		ByStation:     copyCounts(a.byStation),
		Percentages:   percentages(a.byCandidate),
		ReceivedTotal: a.receivedTotal.Load(),
		CountedTotal:  a.countedTotal.Load(),
		Turnout:       a.TurnoutPercent(),
	}
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func percentages(byCandidate map[string]uint64) map[string]float64 {
	var total uint64
	for _, n := range byCandidate {
		total += n
	}
	out := make(map[string]float64, len(byCandidate))
	for k, n := range byCandidate {
		if total > 0 {
			out[k] = float64(n) / float64(total) * 100
		} else {
			out[k] = 0
		}
	}
	return out
}
