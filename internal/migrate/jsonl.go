// Package migrate converts legacy JSONL row dumps into per-table YAML
// documents.
//
// The input format is one JSON object per line:
//
//	{"table": "users", "row": {"id": "1", "name": "Ada"}}
//
// Row values are the flat encoded strings the documents store; rows are
// validated against the schema's codec rules before being written.
package migrate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rbroderi/ysaqml/internal/codec"
	"github.com/rbroderi/ysaqml/internal/docstore"
	"github.com/rbroderi/ysaqml/internal/schema"
)

// Options contains configuration for the migration.
type Options struct {
	FromJSONL     string // input JSONL file path
	ToDir         string // output directory for table documents
	FormatVersion string // version tag to write; empty means the default
	DryRun        bool   // preview without writing
}

// Result contains statistics about the migration.
type Result struct {
	RowsRead      int
	TablesWritten int
	Errors        []string
}

// Run reads the JSONL dump, groups rows by table in input order, and
// writes one document per declared table (including empty ones). Invalid
// lines are recorded and skipped; the migration continues.
func Run(opts Options, sc *schema.Schema, logger *log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	file, err := os.Open(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	cfg := codec.DefaultConfig()
	result := &Result{}
	byTable := make(map[string][]map[string]string)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec struct {
			Table string            `json:"table"`
			Row   map[string]string `json:"row"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}

		table, ok := sc.Table(rec.Table)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: unknown table %q", lineNo, rec.Table))
			continue
		}
		if rec.Row == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: missing row object", lineNo))
			continue
		}
		if _, err := cfg.DecodeRow(*table, len(byTable[rec.Table]), rec.Row); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}

		byTable[rec.Table] = append(byTable[rec.Table], rec.Row)
		result.RowsRead++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL file: %w", err)
	}

	if opts.DryRun {
		logger.Printf("dry run: would write %d tables (%d rows, %d skipped lines)",
			len(sc.Tables), result.RowsRead, len(result.Errors))
		return result, nil
	}

	docs := docstore.New(opts.ToDir, opts.FormatVersion, logger)
	if err := docs.EnsureDir(); err != nil {
		return nil, err
	}
	for _, table := range sc.Tables {
		if err := docs.Write(table.Name, byTable[table.Name]); err != nil {
			return nil, err
		}
		result.TablesWritten++
	}

	logger.Printf("migration complete: %d rows into %d tables (%d skipped lines)",
		result.RowsRead, result.TablesWritten, len(result.Errors))
	return result, nil
}
