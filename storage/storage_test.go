package storage

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	"github.com/recuento/recuento-node/crypto/sealing"
	"github.com/recuento/recuento-node/db/metadb"
	"github.com/recuento/recuento-node/types"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	return New(metadb.NewTest(t))
}

func archivedBallot(station, candidate string) *types.ReceivedBallot {
	return &types.ReceivedBallot{
		ID:                   uuid.New(),
		StationID:            station,
		EmittedAt:            time.Now().UTC().Truncate(time.Second).Format(types.EmittedAtFormat),
		SealedPayload:        types.HexBytes{1, 2, 3},
		Signature:            types.HexBytes{4, 5, 6},
		ReceivedAt:           time.Now(),
		DecryptedCandidateID: candidate,
		Verified:             true,
		Counted:              true,
	}
}

func TestArchiveBallot(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	rb := archivedBallot("M01", "C3")
	c.Assert(stg.HasBallot(rb.ID), qt.IsFalse)
	c.Assert(stg.ArchiveBallot(rb), qt.IsNil)
	c.Assert(stg.HasBallot(rb.ID), qt.IsTrue)

	got, err := stg.ReceivedBallot(rb.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.ID, qt.Equals, rb.ID)
	c.Assert(got.StationID, qt.Equals, rb.StationID)
	c.Assert(got.DecryptedCandidateID, qt.Equals, rb.DecryptedCandidateID)
	c.Assert(got.SealedPayload.Equal(rb.SealedPayload), qt.IsTrue)
	c.Assert(got.Counted, qt.IsTrue)

	_, err = stg.ReceivedBallot(uuid.New())
	c.Assert(err, qt.Equals, ErrNotFound)
}

func TestDedupIDs(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	want := map[uuid.UUID]bool{}
	for range 20 {
		rb := archivedBallot("M01", "C1")
		c.Assert(stg.ArchiveBallot(rb), qt.IsNil)
		want[rb.ID] = true
	}
	ids, err := stg.DedupIDs()
	c.Assert(err, qt.IsNil)
	c.Assert(ids, qt.HasLen, 20)
	for _, id := range ids {
		c.Assert(want[id], qt.IsTrue)
	}
}

func TestArchivedBallotsIteration(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	for range 5 {
		c.Assert(stg.ArchiveBallot(archivedBallot("M01", "C1")), qt.IsNil)
	}
	count := 0
	c.Assert(stg.ArchivedBallots(func(rb *types.ReceivedBallot) bool {
		c.Assert(rb.DecryptedCandidateID, qt.Equals, "C1")
		count++
		return true
	}), qt.IsNil)
	c.Assert(count, qt.Equals, 5)

	n, err := stg.CountArchivedBallots()
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 5)
}

func TestStationSymmetricKey(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c.Assert(stg.SetStationSymmetricKey("M01", key), qt.IsNil)
	got, err := stg.StationSymmetricKey("M01")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, key)

	_, err = stg.StationSymmetricKey("M99")
	c.Assert(err, qt.Equals, ErrNotFound)
}

func TestStationSigningKey(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)

	keys, err := sealing.GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	pub := &keys.SigningKey.PublicKey

	c.Assert(stg.HasStationSigningKey("M01"), qt.IsFalse)
	c.Assert(stg.SetStationSigningKey("M01", pub), qt.IsNil)
	c.Assert(stg.HasStationSigningKey("M01"), qt.IsTrue)

	// Twice to exercise the parsed-key cache.
	for range 2 {
		got, err := stg.StationSigningKey("M01")
		c.Assert(err, qt.IsNil)
		c.Assert(got.Equal(pub), qt.IsTrue)
	}

	// Replacement is latest wins.
	keys2, err := sealing.GenerateStationKeys()
	c.Assert(err, qt.IsNil)
	c.Assert(stg.SetStationSigningKey("M01", &keys2.SigningKey.PublicKey), qt.IsNil)
	got, err := stg.StationSigningKey("M01")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Equal(&keys2.SigningKey.PublicKey), qt.IsTrue)
	c.Assert(got.Equal(pub), qt.IsFalse)
}
