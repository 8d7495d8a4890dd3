package syncer

import (
	"context"

	"github.com/rbroderi/ysaqml/internal/store"
)

// Synchronizer keeps relational tables and their YAML documents in sync.
//
// Both operations are synchronous and idempotent when the underlying data
// has not changed between calls. Fatal errors carry the table name and,
// where applicable, the column name and row index of the offending cell.
type Synchronizer interface {
	// Load hydrates the relational store from the document directory.
	//
	// The storage directory is created if missing. Every table's rows are
	// read and decoded (possibly in parallel), then one transaction
	// clears and re-inserts each table in dependency order. A table with
	// no document decodes to zero rows: its relational rows are still
	// cleared.
	Load(ctx context.Context, st *store.Store) error

	// Save flushes the relational store out to the document directory.
	//
	// All tables are read and encoded inside one transaction, then the
	// documents are written (possibly in parallel). A table with zero
	// rows still produces a document with the version tag and an empty
	// row list.
	Save(ctx context.Context, st *store.Store) error
}
