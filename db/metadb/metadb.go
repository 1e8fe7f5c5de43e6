// Package metadb selects a db.Database backend by name.
package metadb

import (
	"cmp"
	"fmt"
	"os"
	"testing"

	"github.com/recuento/recuento-node/db"
	"github.com/recuento/recuento-node/db/goleveldb"
	"github.com/recuento/recuento-node/db/inmemory"
	"github.com/recuento/recuento-node/db/pebbledb"
)

// New returns a database of the given type rooted at dir.
func New(typ, dir string) (db.Database, error) {
	var database db.Database
	var err error
	opts := db.Options{Path: dir}
	switch typ {
	case db.TypePebble:
		database, err = pebbledb.New(opts)
		if err != nil {
			return nil, err
		}
	case db.TypeLevelDB:
		database, err = goleveldb.New(opts)
		if err != nil {
			return nil, err
		}
	case db.TypeInMemory:
		database, err = inmemory.New(opts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid dbType: %q. Available types: %q %q %q",
			typ, db.TypePebble, db.TypeLevelDB, db.TypeInMemory)
	}
	return database, nil
}

// ForTest returns the database type used by tests, overridable with the
// RECUENTO_DB_TYPE environment variable.
func ForTest() (typ string) {
	return cmp.Or(os.Getenv("RECUENTO_DB_TYPE"), db.TypePebble)
}

// NewTest returns a temporary database that is closed and removed when the
// test finishes.
func NewTest(tb testing.TB) db.Database {
	database, err := New(ForTest(), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := database.Close(); err != nil {
			tb.Error(err)
		}
	})
	return database
}
