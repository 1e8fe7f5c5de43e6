package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	"github.com/recuento/recuento-node/audit"
	"github.com/recuento/recuento-node/crypto/sealing"
	"github.com/recuento/recuento-node/outbox"
	"github.com/recuento/recuento-node/types"
)

// fakeTallier is an in-memory Client for driving the transmitter.
type fakeTallier struct {
	mu        sync.Mutex
	offline   bool
	reject    bool
	accepted  map[uuid.UUID]bool
	submitted int
}

func newFakeTallier() *fakeTallier {
	return &fakeTallier{accepted: make(map[uuid.UUID]bool)}
}

func (f *fakeTallier) SubmitBallot(_ context.Context, ballot *types.Ballot) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
	if f.offline {
		return false, errors.New("connection refused")
	}
	if f.reject {
		return false, nil
	}
	f.accepted[ballot.ID] = true
	return true, nil
}

func (f *fakeTallier) ConfirmBallot(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return false, errors.New("connection refused")
	}
	return f.accepted[id], nil
}

func (f *fakeTallier) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeTallier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

func (f *fakeTallier) forget(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accepted, id)
}

type transmitterFixture struct {
	obox        *outbox.Outbox
	tallier     *fakeTallier
	transmitter *Transmitter
	clock       *fakeClock
	sealer      *sealing.Sealer
}

func newTransmitterFixture(t *testing.T) *transmitterFixture {
	t.Helper()
	keys, err := sealing.GenerateStationKeys()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	obox, err := outbox.New(t.TempDir())
	if err != nil {
		t.Fatalf("outbox: %v", err)
	}
	journal, err := audit.New(t.TempDir(), "estacion")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	tallier := newFakeTallier()
	transmitter := NewTransmitter(obox, tallier, journal, TransmitterConfig{})
	clock := &fakeClock{t: time.Date(2026, 5, 17, 10, 0, 0, 0, time.UTC)}
	transmitter.breaker.now = clock.now
	return &transmitterFixture{
		obox:        obox,
		tallier:     tallier,
		transmitter: transmitter,
		clock:       clock,
		sealer:      sealing.NewSealer("M01", keys),
	}
}

func (fx *transmitterFixture) appendBallot(t *testing.T) *types.Ballot {
	t.Helper()
	ballot := &types.Ballot{
		ID:          uuid.New(),
		StationID:   "M01",
		EmittedAt:   time.Now().UTC().Truncate(time.Second),
		CandidateID: fmt.Sprintf("C%d", fx.obox.Len()+1),
	}
	if err := fx.sealer.Seal(ballot); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := fx.obox.Append(ballot); err != nil {
		t.Fatalf("append: %v", err)
	}
	return ballot
}

func TestDeliverSuccess(t *testing.T) {
	c := qt.New(t)
	fx := newTransmitterFixture(t)
	ballot := fx.appendBallot(t)

	c.Assert(fx.transmitter.Deliver(context.Background(), ballot), qt.IsNil)
	c.Assert(fx.obox.ListAcknowledged(), qt.HasLen, 1)
	c.Assert(fx.obox.ListPending(), qt.HasLen, 0)
}

func TestDeliverLogicalReject(t *testing.T) {
	c := qt.New(t)
	fx := newTransmitterFixture(t)
	fx.tallier.reject = true
	ballot := fx.appendBallot(t)

	err := fx.transmitter.Deliver(context.Background(), ballot)
	c.Assert(errors.Is(err, ErrRejected), qt.IsTrue)
	c.Assert(fx.obox.ListPending(), qt.HasLen, 1)
	// A logical reject is a working transport: the breaker stays closed.
	c.Assert(fx.transmitter.Breaker().IsOpen(), qt.IsFalse)
}

func TestDeliverTransportFailure(t *testing.T) {
	c := qt.New(t)
	fx := newTransmitterFixture(t)
	fx.tallier.setOffline(true)
	ballot := fx.appendBallot(t)

	err := fx.transmitter.Deliver(context.Background(), ballot)
	c.Assert(err, qt.IsNotNil)
	c.Assert(errors.Is(err, ErrRejected), qt.IsFalse)
	c.Assert(fx.obox.ListPending(), qt.HasLen, 1)
}

func TestBreakerTripAndRecovery(t *testing.T) {
	c := qt.New(t)
	fx := newTransmitterFixture(t)
	fx.tallier.setOffline(true)
	ctx := context.Background()

	// Three failing calls trip the breaker.
	b1 := fx.appendBallot(t)
	b2 := fx.appendBallot(t)
	b3 := fx.appendBallot(t)
	for _, b := range []*types.Ballot{b1, b2, b3} {
		c.Assert(fx.transmitter.Deliver(ctx, b), qt.IsNotNil)
	}
	c.Assert(fx.tallier.calls(), qt.Equals, 3)

	// The fourth call must not touch the network.
	b4 := fx.appendBallot(t)
	err := fx.transmitter.Deliver(ctx, b4)
	c.Assert(errors.Is(err, ErrBreakerOpen), qt.IsTrue)
	c.Assert(fx.tallier.calls(), qt.Equals, 3)
	c.Assert(fx.obox.ListPending(), qt.HasLen, 4)

	// Past the backoff with the tallier back online, the sweep delivers
	// every pending ballot.
	fx.tallier.setOffline(false)
	fx.clock.advance(6 * time.Second)
	fx.transmitter.sweep(ctx)
	c.Assert(fx.obox.ListPending(), qt.HasLen, 0)
	c.Assert(fx.obox.ListAcknowledged(), qt.HasLen, 4)
}

func TestSweepAbortsWhenBreakerTrips(t *testing.T) {
	c := qt.New(t)
	fx := newTransmitterFixture(t)
	ctx := context.Background()

	for range 5 {
		fx.appendBallot(t)
	}
	fx.tallier.setOffline(true)
	fx.transmitter.sweep(ctx)

	// The breaker tripped after three transport failures and the sweep
	// aborted without burning calls on the remaining entries.
	c.Assert(fx.tallier.calls(), qt.Equals, 3)
	c.Assert(fx.obox.ListPending(), qt.HasLen, 5)
}

func TestConfirmationAuditorDemotes(t *testing.T) {
	c := qt.New(t)
	fx := newTransmitterFixture(t)
	ctx := context.Background()

	confirmed := fx.appendBallot(t)
	lost := fx.appendBallot(t)
	c.Assert(fx.transmitter.Deliver(ctx, confirmed), qt.IsNil)
	c.Assert(fx.transmitter.Deliver(ctx, lost), qt.IsNil)
	c.Assert(fx.obox.ListAcknowledged(), qt.HasLen, 2)

	// The tallier loses one ballot; the auditor demotes exactly that one.
	fx.tallier.forget(lost.ID)
	fx.transmitter.auditConfirmations(ctx)

	pending := fx.obox.ListPending()
	c.Assert(pending, qt.HasLen, 1)
	c.Assert(pending[0].ID, qt.Equals, lost.ID)
	c.Assert(fx.obox.ListAcknowledged(), qt.HasLen, 1)
}

func TestConfirmationAuditorSkipsOnTransportFailure(t *testing.T) {
	c := qt.New(t)
	fx := newTransmitterFixture(t)
	ctx := context.Background()

	ballot := fx.appendBallot(t)
	c.Assert(fx.transmitter.Deliver(ctx, ballot), qt.IsNil)

	// Offline tallier: the auditor cannot tell, so nothing is demoted.
	fx.tallier.setOffline(true)
	fx.transmitter.auditConfirmations(ctx)
	c.Assert(fx.obox.ListAcknowledged(), qt.HasLen, 1)
}

func TestStationVoteFlow(t *testing.T) {
	c := qt.New(t)
	fx := newTransmitterFixture(t)

	journal, err := audit.New(t.TempDir(), "estacion")
	c.Assert(err, qt.IsNil)
	st, err := New("M01", fx.sealer, fx.obox, fx.transmitter, journal, denyRepeatChecker{})
	c.Assert(err, qt.IsNil)

	id, err := st.Vote(context.Background(), "12345678", "C3")
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Not(qt.Equals), uuid.Nil)
	c.Assert(fx.obox.ListAcknowledged(), qt.HasLen, 1)

	// A repeat voter is refused before any ballot exists.
	_, err = st.Vote(context.Background(), "repeat", "C3")
	c.Assert(err, qt.IsNotNil)
	c.Assert(fx.obox.Len(), qt.Equals, 1)
}

// denyRepeatChecker refuses the literal document "repeat".
type denyRepeatChecker struct{}

func (denyRepeatChecker) MayVote(_, document string) (bool, string) {
	if document == "repeat" {
		return false, "already voted"
	}
	return true, ""
}
