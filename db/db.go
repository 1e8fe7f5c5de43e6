// Package db defines the key-value database interfaces used by the tallier
// storage layer. Implementations live in the subpackages pebbledb, goleveldb
// and inmemory; metadb selects one by name.
package db

import "errors"

// ErrKeyNotFound is returned whenever a key is not found in the database.
var ErrKeyNotFound = errors.New("key not found")

// Available database backends.
const (
	TypePebble   = "pebble"
	TypeLevelDB  = "goleveldb"
	TypeInMemory = "inmemory"
)

// Options defines generic parameters for the database backends.
type Options struct {
	Path string
}

// Reader is the interface for read-only database access.
type Reader interface {
	// Get retrieves the value for the given key. Returns ErrKeyNotFound if
	// the key does not exist.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback with all key-value pairs whose key starts with
	// prefix. The prefix is stripped from the keys passed to the callback.
	// Iteration stops when the callback returns false.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx is a write transaction. It must be terminated with Commit or
// Discard; Discard after Commit is a no-op, which helps with defers.
type WriteTx interface {
	Reader
	// Set adds a key-value pair, overwriting any previous value.
	Set(key, value []byte) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error
	// Apply replays the writes of another transaction into this one.
	Apply(other WriteTx) error
	// Commit atomically applies all pending writes.
	Commit() error
	// Discard drops all pending writes.
	Discard()
}

// Database is the interface every key-value backend implements.
type Database interface {
	Reader
	// WriteTx starts a new write transaction.
	WriteTx() WriteTx
	// Close closes the database and releases its resources.
	Close() error
	// Compact triggers a storage compaction, if the backend supports it.
	Compact() error
}

// WriteTxUnwrapper is implemented by WriteTx wrappers (such as the prefixed
// database) so that backends can reach the underlying transaction.
type WriteTxUnwrapper interface {
	UnwrapWriteTx() WriteTx
}

// UnwrapWriteTx returns the innermost WriteTx, unwrapping any wrappers.
func UnwrapWriteTx(tx WriteTx) WriteTx {
	for {
		unwrapper, ok := tx.(WriteTxUnwrapper)
		if !ok {
			return tx
		}
		tx = unwrapper.UnwrapWriteTx()
	}
}
