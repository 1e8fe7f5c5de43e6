// Package prefixeddb exposes a view over a db.Database restricted to a key
// prefix. It is the mechanism the storage layer uses to namespace artifacts.
package prefixeddb

import (
	"github.com/recuento/recuento-node/db"
)

// PrefixedDatabase wraps a db.Database prepending a prefix to every key.
type PrefixedDatabase struct {
	db     db.Database
	prefix []byte
}

var _ db.Database = (*PrefixedDatabase)(nil)

// NewPrefixedDatabase returns a db.Database whose keys live under prefix.
func NewPrefixedDatabase(database db.Database, prefix []byte) *PrefixedDatabase {
	return &PrefixedDatabase{
		db:     database,
		prefix: prefix,
	}
}

// NewPrefixedReader returns a read-only view of the database under prefix.
func NewPrefixedReader(database db.Database, prefix []byte) db.Reader {
	return NewPrefixedDatabase(database, prefix)
}

func (d *PrefixedDatabase) Get(key []byte) ([]byte, error) {
	return d.db.Get(prefixKey(d.prefix, key))
}

func (d *PrefixedDatabase) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return d.db.Iterate(prefixKey(d.prefix, prefix), callback)
}

func (d *PrefixedDatabase) WriteTx() db.WriteTx {
	return &PrefixedWriteTx{
		tx:     d.db.WriteTx(),
		prefix: d.prefix,
	}
}

// Close closes the underlying database.
func (d *PrefixedDatabase) Close() error {
	return d.db.Close()
}

// Compact compacts the underlying database.
func (d *PrefixedDatabase) Compact() error {
	return d.db.Compact()
}

// PrefixedWriteTx wraps a db.WriteTx prepending a prefix to every key.
type PrefixedWriteTx struct {
	tx     db.WriteTx
	prefix []byte
}

var (
	_ db.WriteTx          = (*PrefixedWriteTx)(nil)
	_ db.WriteTxUnwrapper = (*PrefixedWriteTx)(nil)
)

// UnwrapWriteTx returns the wrapped transaction.
func (tx *PrefixedWriteTx) UnwrapWriteTx() db.WriteTx {
	return tx.tx
}

func (tx *PrefixedWriteTx) Get(key []byte) ([]byte, error) {
	return tx.tx.Get(prefixKey(tx.prefix, key))
}

func (tx *PrefixedWriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return tx.tx.Iterate(prefixKey(tx.prefix, prefix), callback)
}

func (tx *PrefixedWriteTx) Set(key, value []byte) error {
	return tx.tx.Set(prefixKey(tx.prefix, key), value)
}

func (tx *PrefixedWriteTx) Delete(key []byte) error {
	return tx.tx.Delete(prefixKey(tx.prefix, key))
}

func (tx *PrefixedWriteTx) Apply(other db.WriteTx) error {
	return other.Iterate(nil, func(k, v []byte) bool {
		return tx.Set(k, v) == nil
	})
}

func (tx *PrefixedWriteTx) Commit() error {
	return tx.tx.Commit()
}

func (tx *PrefixedWriteTx) Discard() {
	tx.tx.Discard()
}

func prefixKey(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}
