// Package ysaqml mirrors an embedded SQLite database to one YAML document
// per table, so rows stay human-readable and diff-friendly on disk while
// remaining queryable relationally at runtime.
//
// Basic usage:
//
//	sc, err := schema.LoadFile("schema.toml")
//	if err != nil {
//	    return err
//	}
//	eng, err := ysaqml.Open(sc, "data/")
//	if err != nil {
//	    return err
//	}
//	defer eng.Close() // saves tables back to data/
//
//	rows, err := eng.DB().Query(`SELECT id, name FROM users`)
package ysaqml

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/rbroderi/ysaqml/internal/codec"
	"github.com/rbroderi/ysaqml/internal/docstore"
	"github.com/rbroderi/ysaqml/internal/schema"
	"github.com/rbroderi/ysaqml/internal/store"
	"github.com/rbroderi/ysaqml/internal/syncer"
)

// Sentinel and version defaults, re-exported for callers that inspect
// documents directly.
const (
	DefaultFormatVersion = docstore.DefaultFormatVersion
	NullToken            = codec.NullToken
	BlobBase85Token      = codec.BlobBase85Token
	BlobBase64Token      = codec.BlobBase64Token
	BlobLineWidth        = codec.BlobLineWidth
)

// Option adjusts engine construction.
type Option func(*config)

type config struct {
	dbPath string
	sync   syncer.Options
}

// WithDatabasePath stores the relational side at path instead of the
// default private in-memory database.
func WithDatabasePath(path string) Option {
	return func(c *config) { c.dbPath = path }
}

// WithFormatVersion overrides the document format version tag.
func WithFormatVersion(version string) Option {
	return func(c *config) { c.sync.FormatVersion = version }
}

// WithNullToken overrides the NULL sentinel.
func WithNullToken(token string) Option {
	return func(c *config) { c.sync.NullToken = token }
}

// WithBlobEncoding selects BlobBase85Token or BlobBase64Token for binary
// payloads.
func WithBlobEncoding(token string) Option {
	return func(c *config) { c.sync.BlobEncoding = token }
}

// WithWorkers bounds per-table file parallelism. Values below 1 are
// rejected by Open; 1 disables parallelism.
func WithWorkers(n int) Option {
	return func(c *config) { c.sync.Workers = n }
}

// WithLogger routes warnings and fallback notices to logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *config) { c.sync.Logger = logger }
}

// Engine owns the relational store and its document synchronizer. It is
// the Go counterpart of opening a database session over a YAML-mirrored
// dataset: Open creates the tables and loads the documents, Close saves
// and disposes.
type Engine struct {
	store  *store.Store
	sync   syncer.Synchronizer
	logger *log.Logger
	closed bool
}

// Open builds the engine: open the database (in-memory unless
// WithDatabasePath is given), create the declared tables, and load the
// documents from dir.
func Open(sc *schema.Schema, dir string, opts ...Option) (*Engine, error) {
	cfg := config{dbPath: store.MemoryPath}
	for _, opt := range opts {
		opt(&cfg)
	}

	syn, err := syncer.New(sc, dir, cfg.sync)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.dbPath, sc)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := st.CreateTables(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := syn.Load(ctx, st); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &Engine{store: st, sync: syn, logger: cfg.sync.Logger}, nil
}

// DB returns the underlying sql.DB for queries and statements.
func (e *Engine) DB() *sql.DB {
	return e.store.RawDB()
}

// Store returns the relational store handle.
func (e *Engine) Store() *store.Store {
	return e.store
}

// WithTx runs fn in a transaction against the store. Registered auto-sync
// observers fire after the transaction settles.
func (e *Engine) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return e.store.WithTx(ctx, fn)
}

// Load clears the relational tables and hydrates them from the documents.
func (e *Engine) Load(ctx context.Context) error {
	return e.sync.Load(ctx, e.store)
}

// Save dumps every relational table into its companion document.
func (e *Engine) Save(ctx context.Context) error {
	return e.sync.Save(ctx, e.store)
}

// AutoSync registers transaction observers on the store: a commit through
// WithTx saves the tables to disk and a rollback reloads them from disk.
// The synchronizer's own internal transactions are suppressed, so
// observers never recurse. Observer failures are logged, not surfaced.
func (e *Engine) AutoSync() {
	e.store.OnCommit(func() {
		if err := e.Save(context.Background()); err != nil {
			e.logf("auto-save after commit failed: %v", err)
		}
	})
	e.store.OnRollback(func() {
		if err := e.Load(context.Background()); err != nil {
			e.logf("auto-reload after rollback failed: %v", err)
		}
	})
}

// Close saves every table to its document and disposes the database.
// Close is idempotent; only the first call saves.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	saveErr := e.Save(context.Background())
	closeErr := e.store.Close()
	if saveErr != nil {
		return fmt.Errorf("failed to save on close: %w", saveErr)
	}
	return closeErr
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
