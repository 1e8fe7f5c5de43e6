package storage

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/recuento/recuento-node/db/prefixeddb"
	"github.com/recuento/recuento-node/types"
)

// ArchiveBallot stores a counted ballot and its dedup mirror entry in one
// transaction, so an acknowledged ballot id survives a tallier restart.
func (s *Storage) ArchiveBallot(rb *types.ReceivedBallot) error {
	data, err := EncodeArtifact(rb)
	if err != nil {
		return err
	}
	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(ballotKey(receivedBallotPrefix, rb.ID), data); err != nil {
		return err
	}
	if err := wTx.Set(ballotKey(dedupPrefix, rb.ID), nil); err != nil {
		return err
	}
	return wTx.Commit()
}

// HasBallot reports whether a ballot id is present in the dedup mirror.
func (s *Storage) HasBallot(id uuid.UUID) bool {
	_, err := s.db.Get(ballotKey(dedupPrefix, id))
	return err == nil
}

// ReceivedBallot retrieves an archived ballot by id.
func (s *Storage) ReceivedBallot(id uuid.UUID) (*types.ReceivedBallot, error) {
	rb := &types.ReceivedBallot{}
	if err := s.getArtifact(receivedBallotPrefix, id[:], rb); err != nil {
		return nil, err
	}
	return rb, nil
}

// DedupIDs returns every ballot id in the dedup mirror, used to rebuild the
// replay detector at startup.
func (s *Storage) DedupIDs() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	var outerErr error
	if err := prefixeddb.NewPrefixedReader(s.db, dedupPrefix).Iterate(nil, func(k, _ []byte) bool {
		id, err := uuid.FromBytes(k)
		if err != nil {
			outerErr = fmt.Errorf("invalid dedup key %x: %w", k, err)
			return false
		}
		ids = append(ids, id)
		return true
	}); err != nil {
		return nil, err
	}
	return ids, outerErr
}

// ArchivedBallots iterates the ballot archive, decoding each record. The
// aggregate counters are rebuilt from this iteration at startup. Iteration
// stops when fn returns false.
func (s *Storage) ArchivedBallots(fn func(*types.ReceivedBallot) bool) error {
	var outerErr error
	if err := prefixeddb.NewPrefixedReader(s.db, receivedBallotPrefix).Iterate(nil, func(k, v []byte) bool {
		rb := &types.ReceivedBallot{}
		if err := DecodeArtifact(v, rb); err != nil {
			outerErr = fmt.Errorf("decode archived ballot %x: %w", k, err)
			return false
		}
		return fn(rb)
	}); err != nil {
		return err
	}
	return outerErr
}

// CountArchivedBallots returns the number of archived ballots.
func (s *Storage) CountArchivedBallots() (int, error) {
	count := 0
	if err := prefixeddb.NewPrefixedReader(s.db, receivedBallotPrefix).Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	}); err != nil {
		return 0, err
	}
	return count, nil
}

func ballotKey(prefix []byte, id uuid.UUID) []byte {
	out := make([]byte, 0, len(prefix)+len(id))
	out = append(out, prefix...)
	return append(out, id[:]...)
}
