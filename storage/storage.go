/*
Package storage provides the tallier persistence layer on a prefixed
key-value database.

# Storage organization

  - rb/ : ballotID → ReceivedBallot (archive of every counted ballot, CBOR;
    the aggregate counters are rebuilt from this archive at startup)
  - dd/ : ballotID → nil (exact dedup set mirror; written in the same
    transaction as the archive entry so a positive ack is durable)
  - ak/ : stationID → AES-256 key (raw bytes, stored after unwrap)
  - pk/ : stationID → RSA public signing key (X.509 SPKI DER)
*/
package storage

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/recuento/recuento-node/db"
	"github.com/recuento/recuento-node/db/prefixeddb"
	"github.com/recuento/recuento-node/log"
)

var (
	ErrNotFound = errors.New("not found")

	// Prefixes
	receivedBallotPrefix = []byte("rb/")
	dedupPrefix          = []byte("dd/")
	symmetricKeyPrefix   = []byte("ak/")
	signingKeyPrefix     = []byte("pk/")
)

const signingKeyCacheSize = 1024

// Storage manages the tallier durable state.
type Storage struct {
	db db.Database
	// parsed RSA public keys are cached to avoid re-parsing DER on every
	// submission
	signingKeyCache *lru.Cache[string, any]
}

// New creates a new Storage instance over the given database.
func New(database db.Database) *Storage {
	cache, err := lru.New[string, any](signingKeyCacheSize)
	if err != nil {
		log.Fatalf("failed to create signing key cache: %v", err)
	}
	return &Storage{
		db:              database,
		signingKeyCache: cache,
	}
}

// Close closes the underlying database.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Warnw("failed to close storage", "error", err)
	}
}

// getArtifact retrieves an artifact from prefix/key and decodes it into out.
func (s *Storage) getArtifact(prefix, key []byte, out any, encoding ...ArtifactEncoding) error {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if err != nil {
		return ErrNotFound
	}
	if err := DecodeArtifact(data, out, encoding...); err != nil {
		return fmt.Errorf("could not decode artifact: %w", err)
	}
	return nil
}

// setRaw stores raw bytes under prefix/key.
func (s *Storage) setRaw(prefix, key, value []byte) error {
	wTx := prefixeddb.NewPrefixedDatabase(s.db, prefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(key, value); err != nil {
		return err
	}
	return wTx.Commit()
}

// getRaw retrieves raw bytes from prefix/key.
func (s *Storage) getRaw(prefix, key []byte) ([]byte, error) {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if err != nil {
		return nil, ErrNotFound
	}
	return data, nil
}
