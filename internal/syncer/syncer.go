package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/rbroderi/ysaqml/internal/codec"
	"github.com/rbroderi/ysaqml/internal/docstore"
	"github.com/rbroderi/ysaqml/internal/schema"
	"github.com/rbroderi/ysaqml/internal/store"
	"github.com/rbroderi/ysaqml/internal/workpool"
)

// Options configures a Synchronizer. The zero value selects the defaults:
// format version docstore.DefaultFormatVersion, the default sentinel set
// with base-85 blobs, and min(32, 4×NumCPU) workers.
type Options struct {
	// FormatVersion is the document version tag written on save.
	FormatVersion string
	// NullToken overrides the NULL sentinel.
	NullToken string
	// BlobEncoding selects codec.BlobBase85Token or codec.BlobBase64Token.
	BlobEncoding string
	// Workers bounds per-table file parallelism. 0 means the default;
	// negative values are rejected. 1 disables parallelism.
	Workers int
	// Pool, when set, is a shared worker pool used instead of a transient
	// per-call pool. If the pool refuses submissions (closed during
	// shutdown), the batch reruns sequentially.
	Pool *workpool.Pool
	// Logger receives warnings and fallback notices. nil means a default
	// stderr logger.
	Logger *log.Logger
}

// synchronizer implements the Synchronizer interface.
type synchronizer struct {
	schema  *schema.Schema
	docs    *docstore.Store
	codec   codec.Config
	workers int
	pool    *workpool.Pool
	logger  *log.Logger
}

// New creates a Synchronizer for the given schema and storage directory.
//
// The configuration is fixed at construction: an invalid worker count or
// blob encoding fails here, before any I/O.
func New(sc *schema.Schema, dir string, opts Options) (Synchronizer, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	workers := opts.Workers
	if workers == 0 {
		workers = workpool.DefaultWorkers()
	}
	if workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1 (got %d)", opts.Workers)
	}

	cfg, err := codec.NewConfig(opts.NullToken, opts.BlobEncoding)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	return &synchronizer{
		schema:  sc,
		docs:    docstore.New(dir, opts.FormatVersion, logger),
		codec:   cfg,
		workers: workers,
		pool:    opts.Pool,
		logger:  logger,
	}, nil
}

// Load implements Synchronizer.Load.
func (s *synchronizer) Load(ctx context.Context, st *store.Store) error {
	if err := s.docs.EnsureDir(); err != nil {
		return err
	}
	tables, err := s.schema.SortedTables()
	if err != nil {
		return err
	}

	// Read and decode every document before touching the store, so a
	// malformed file aborts with no relational mutation.
	decoded := make([][]map[string]any, len(tables))
	err = s.forEachTable(len(tables), func(i int) error {
		rows, err := s.readTable(tables[i])
		if err != nil {
			return err
		}
		decoded[i] = rows
		return nil
	})
	if err != nil {
		return err
	}

	release := st.Suppress()
	defer release()
	return st.WithTx(ctx, func(tx *sql.Tx) error {
		// Clear children before parents: deleting a parent's rows while
		// stale child rows still reference them trips foreign key
		// enforcement.
		for i := len(tables) - 1; i >= 0; i-- {
			if err := st.DeleteAllTx(ctx, tx, tables[i].Name); err != nil {
				return err
			}
		}
		for i, table := range tables {
			if len(decoded[i]) == 0 {
				continue
			}
			if err := st.BulkInsertTx(ctx, tx, table, decoded[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Save implements Synchronizer.Save.
func (s *synchronizer) Save(ctx context.Context, st *store.Store) error {
	if err := s.docs.EnsureDir(); err != nil {
		return err
	}
	tables, err := s.schema.SortedTables()
	if err != nil {
		return err
	}

	encoded := make([][]map[string]string, len(tables))
	release := st.Suppress()
	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		for i, table := range tables {
			rows, err := st.SelectAllTx(ctx, tx, table)
			if err != nil {
				return err
			}
			payload := make([]map[string]string, len(rows))
			for j, row := range rows {
				payload[j] = s.codec.EncodeRow(table, row)
			}
			encoded[i] = payload
		}
		return nil
	})
	release()
	if err != nil {
		return err
	}

	return s.forEachTable(len(tables), func(i int) error {
		return s.docs.Write(tables[i].Name, encoded[i])
	})
}

// readTable returns a table's decoded rows; a missing document is an
// empty table.
func (s *synchronizer) readTable(table schema.Table) ([]map[string]any, error) {
	raw, err := s.docs.Read(table.Name)
	if err != nil {
		return nil, err
	}
	decoded := make([]map[string]any, len(raw))
	for i, row := range raw {
		decoded[i], err = s.codec.DecodeRow(table, i, row)
		if err != nil {
			return nil, err
		}
	}
	return decoded, nil
}
