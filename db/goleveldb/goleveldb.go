// Package goleveldb implements the db.Database interface on top of
// syndtr/goleveldb.
package goleveldb

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/recuento/recuento-node/db"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// GolevelDB implements db.Database backed by a leveldb store.
type GolevelDB struct {
	db *leveldb.DB
}

var _ db.Database = (*GolevelDB)(nil)

// New opens (or creates) a leveldb database at opts.Path.
func New(opts db.Options) (*GolevelDB, error) {
	o := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	ldb, err := leveldb.OpenFile(opts.Path, o)
	if err != nil {
		return nil, err
	}
	return &GolevelDB{db: ldb}, nil
}

func (d *GolevelDB) Get(k []byte) ([]byte, error) {
	v, err := d.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	return v, err
}

func (d *GolevelDB) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	iter := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		localKey := iter.Key()[len(prefix):]
		if cont := callback(localKey, iter.Value()); !cont {
			break
		}
	}
	return iter.Error()
}

// WriteTx returns a transaction staged in memory and flushed as a single
// leveldb batch on Commit.
func (d *GolevelDB) WriteTx() db.WriteTx {
	return &WriteTx{
		db:      d,
		pending: make(map[string]*[]byte),
	}
}

// Close closes the leveldb database.
func (d *GolevelDB) Close() error {
	return d.db.Close()
}

// Compact compacts the whole key range.
func (d *GolevelDB) Compact() error {
	return d.db.CompactRange(util.Range{})
}

// WriteTx implements db.WriteTx staging writes in memory. A nil pending
// value marks a deletion.
type WriteTx struct {
	db       *GolevelDB
	mu       sync.Mutex
	pending  map[string]*[]byte
	finished bool
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(k []byte) ([]byte, error) {
	tx.mu.Lock()
	pending, staged := tx.pending[string(k)]
	tx.mu.Unlock()
	if staged {
		if pending == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(*pending), nil
	}
	return tx.db.Get(k)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	entries := map[string][]byte{}
	if err := tx.db.Iterate(prefix, func(k, v []byte) bool {
		entries[string(k)] = bytes.Clone(v)
		return true
	}); err != nil {
		return err
	}
	tx.mu.Lock()
	for k, v := range tx.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		localKey := k[len(prefix):]
		if v == nil {
			delete(entries, localKey)
			continue
		}
		entries[localKey] = bytes.Clone(*v)
	}
	tx.mu.Unlock()
	for k, v := range entries {
		if !callback([]byte(k), v) {
			break
		}
	}
	return nil
}

func (tx *WriteTx) Set(k, v []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	vCopy := bytes.Clone(v)
	tx.pending[string(k)] = &vCopy
	return nil
}

func (tx *WriteTx) Delete(k []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.pending[string(k)] = nil
	return nil
}

func (tx *WriteTx) Apply(other db.WriteTx) error {
	return other.Iterate(nil, func(k, v []byte) bool {
		return tx.Set(k, v) == nil
	})
}

func (tx *WriteTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.finished {
		return fmt.Errorf("cannot commit leveldb tx: already committed or discarded")
	}
	batch := new(leveldb.Batch)
	for k, v := range tx.pending {
		if v == nil {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), *v)
	}
	tx.finished = true
	return tx.db.db.Write(batch, nil)
}

func (tx *WriteTx) Discard() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.pending = map[string]*[]byte{}
	tx.finished = true
}
