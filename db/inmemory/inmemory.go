// Package inmemory implements an ephemeral db.Database, mostly useful for
// tests that do not need durability.
package inmemory

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/recuento/recuento-node/db"
)

// InMemoryDB implements db.Database over a plain map.
type InMemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ db.Database = (*InMemoryDB)(nil)

// New returns a new in-memory database. Options are ignored.
func New(_ db.Options) (*InMemoryDB, error) {
	return &InMemoryDB{data: make(map[string][]byte)}, nil
}

func (d *InMemoryDB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[string(key)]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (d *InMemoryDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	d.mu.RLock()
	entries := make(map[string][]byte)
	for k, v := range d.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			entries[k[len(prefix):]] = bytes.Clone(v)
		}
	}
	d.mu.RUnlock()
	return iterateEntries(entries, callback)
}

func (d *InMemoryDB) WriteTx() db.WriteTx {
	return &WriteTx{
		db:      d,
		pending: make(map[string]*[]byte),
	}
}

func (d *InMemoryDB) Close() error {
	return nil
}

func (d *InMemoryDB) Compact() error {
	return nil
}

// WriteTx stages writes in memory; a nil pending value marks a deletion.
type WriteTx struct {
	db       *InMemoryDB
	pending  map[string]*[]byte
	finished bool
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	if pending, ok := tx.pending[string(key)]; ok {
		if pending == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(*pending), nil
	}
	return tx.db.Get(key)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	entries := make(map[string][]byte)
	tx.db.mu.RLock()
	for k, v := range tx.db.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			entries[k[len(prefix):]] = bytes.Clone(v)
		}
	}
	tx.db.mu.RUnlock()
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
	return iterateEntries(entries, callback)
}

func (tx *WriteTx) Set(key, value []byte) error {
	vCopy := bytes.Clone(value)
	tx.pending[string(key)] = &vCopy
	return nil
}

func (tx *WriteTx) Delete(key []byte) error {
	tx.pending[string(key)] = nil
	return nil
}

func (tx *WriteTx) Apply(other db.WriteTx) error {
	return other.Iterate(nil, func(k, v []byte) bool {
		return tx.Set(k, v) == nil
	})
}

func (tx *WriteTx) Commit() error {
	if tx.finished {
		return fmt.Errorf("cannot commit inmemory tx: already committed or discarded")
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for k, v := range tx.pending {
		if v == nil {
			delete(tx.db.data, k)
			continue
		}
		tx.db.data[k] = *v
	}
	tx.finished = true
	return nil
}

func (tx *WriteTx) Discard() {
	tx.pending = map[string]*[]byte{}
	tx.finished = true
}

func iterateEntries(entries map[string][]byte, callback func(key, value []byte) bool) error {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if !callback([]byte(key), entries[key]) {
			break
		}
	}
	return nil
}
