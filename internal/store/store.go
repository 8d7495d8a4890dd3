// Package store provides the embedded SQLite relational store the
// synchronizer mirrors to YAML documents.
//
// The database runs embedded via ncruces/go-sqlite3 with WAL mode for
// file-backed databases. All relational mutation during a load happens in
// one transaction per call, so a failed load leaves no partial state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbroderi/ysaqml/internal/schema"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// MemoryPath opens a private in-memory database instead of a file.
const MemoryPath = ":memory:"

// Store wraps the SQLite connection with schema-aware row operations.
type Store struct {
	conn   *sql.DB
	schema *schema.Schema
	path   string

	mu            sync.Mutex
	commitHooks   []func()
	rollbackHooks []func()
	suppress      int
}

// Open creates a database connection at the specified path and validates
// the schema. Use MemoryPath for an in-memory database.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string, sc *schema.Schema) (*Store, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	// Pragmas go on the connection string so every pooled connection
	// gets them, not just the one an Exec happens to land on.
	memory := path == MemoryPath
	var connStr string
	if memory {
		connStr = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = "file:" + path +
			"?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if memory {
		// A pooled second connection would see a different private
		// in-memory database, so pin the pool to one connection.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{conn: conn, schema: sc, path: path}, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Schema returns the table definitions the store was opened with.
func (s *Store) Schema() *schema.Schema {
	return s.schema
}

// Close closes the database connection. File-backed databases get a WAL
// checkpoint first so all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if s.path != MemoryPath {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// CreateTables creates every declared table in dependency order. This is
// idempotent - safe to call multiple times.
func (s *Store) CreateTables(ctx context.Context) error {
	tables, err := s.schema.SortedTables()
	if err != nil {
		return err
	}
	for _, t := range tables {
		if _, err := s.conn.ExecContext(ctx, t.CreateSQL()); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// DeleteAllTx removes every row of a table within the given transaction.
func (s *Store) DeleteAllTx(ctx context.Context, tx *sql.Tx, table string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
		return fmt.Errorf("failed to clear table %s: %w", table, err)
	}
	return nil
}

// BulkInsertTx inserts decoded rows into a table within the given
// transaction. Columns absent from a row are omitted from its INSERT so
// the engine applies column defaults.
func (s *Store) BulkInsertTx(ctx context.Context, tx *sql.Tx, table schema.Table, rows []map[string]any) error {
	for i, row := range rows {
		cols := make([]string, 0, len(row))
		args := make([]any, 0, len(row))
		for _, col := range table.Columns {
			value, ok := row[col.Name]
			if !ok {
				continue
			}
			cols = append(cols, quoteIdent(col.Name))
			args = append(args, value)
		}

		var query string
		if len(cols) == 0 {
			query = "INSERT INTO " + quoteIdent(table.Name) + " DEFAULT VALUES"
		} else {
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quoteIdent(table.Name),
				strings.Join(cols, ", "),
				placeholders(len(cols)))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert row %d into table %s: %w", i, table.Name, err)
		}
	}
	return nil
}

// SelectAllTx reads every row of a table within the given transaction,
// in rowid order. For a table with an INTEGER PRIMARY KEY that key is
// the rowid, so rows come back in key order; either way the order is
// stable across repeated saves. Driver values are normalized to the
// declared column kinds so the encoded output is deterministic.
func (s *Store) SelectAllTx(ctx context.Context, tx *sql.Tx, table schema.Table) ([]map[string]any, error) {
	cols := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = quoteIdent(col.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid",
		strings.Join(cols, ", "), quoteIdent(table.Name))

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select from table %s: %w", table.Name, err)
	}
	defer rows.Close()

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(table.Columns))
		dests := make([]any, len(table.Columns))
		for i := range values {
			dests[i] = &values[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("failed to scan row from table %s: %w", table.Name, err)
		}
		row := make(map[string]any, len(table.Columns))
		for i, col := range table.Columns {
			row[col.Name] = normalize(col, values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows from table %s: %w", table.Name, err)
	}
	return result, nil
}

// normalize coerces a driver value to the declared column kind. SQLite
// stores booleans as integers and may hand text back as bytes.
func normalize(col schema.Column, v any) any {
	if v == nil {
		return nil
	}
	switch col.Kind {
	case schema.KindBoolean:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		}
	case schema.KindBinary:
		if x, ok := v.([]byte); ok {
			out := make([]byte, len(x))
			copy(out, x)
			return out
		}
	case schema.KindText, schema.KindOther:
		if x, ok := v.([]byte); ok {
			return string(x)
		}
	case schema.KindInteger:
		if x, ok := v.(float64); ok && x == float64(int64(x)) {
			return int64(x)
		}
	}
	return v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
