// Package docstore reads and writes the per-table YAML documents.
//
// Each table owns exactly one document at <dir>/<table>.yaml holding a
// format_version tag and the flat row list. Documents are read and
// overwritten wholesale, never patched.
package docstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// DefaultFormatVersion is the document format version written by this
// release.
const DefaultFormatVersion = "1.0"

const fileExt = ".yaml"

// StructuralError reports a document whose shape does not match the
// expected version-tag-plus-row-list layout.
type StructuralError struct {
	Table string
	// Row is the offending row ordinal, or -1 when the whole document is
	// malformed.
	Row    int
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("table %s: row %d %s", e.Table, e.Row, e.Reason)
	}
	return fmt.Sprintf("table %s: %s", e.Table, e.Reason)
}

// Store reads and writes table documents under a single directory.
type Store struct {
	dir     string
	version string
	logger  *log.Logger
}

// New creates a document store rooted at dir. If version is empty,
// DefaultFormatVersion is used. If logger is nil, a default logger
// writing to stderr is used.
func New(dir, version string, logger *log.Logger) *Store {
	if version == "" {
		version = DefaultFormatVersion
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[docstore] ", log.LstdFlags)
	}
	return &Store{dir: dir, version: version, logger: logger}
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Version returns the configured format version.
func (s *Store) Version() string { return s.version }

// EnsureDir creates the storage directory if it does not exist.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}

// Path returns the document path for a table.
func (s *Store) Path(table string) string {
	return filepath.Join(s.dir, table+fileExt)
}

// document is the top-level YAML shape of one table file.
type document struct {
	FormatVersion string              `yaml:"format_version"`
	Rows          []map[string]string `yaml:"rows"`
}

// Write serializes the rows under the configured format version and
// replaces the table's document. The write goes through a temp file and
// rename so readers never observe a partial document.
func (s *Store) Write(table string, rows []map[string]string) error {
	if rows == nil {
		rows = []map[string]string{}
	}
	data, err := yaml.Marshal(document{FormatVersion: s.version, Rows: rows})
	if err != nil {
		return fmt.Errorf("failed to marshal document for table %s: %w", table, err)
	}

	path := s.Path(table)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write document for table %s: %w", table, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace document for table %s: %w", table, err)
	}
	return nil
}

// Read parses a table's document and returns its encoded rows. A missing
// file is an empty table, and a null cell is an unset column (NULL). A
// stored format version different from the configured one is logged and
// tolerated; a malformed document is a StructuralError.
func (s *Store) Read(table string) ([]map[string]string, error) {
	data, err := os.ReadFile(s.Path(table))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document for table %s: %w", table, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse document for table %s: %w", table, err)
	}
	if len(root.Content) == 0 {
		return nil, &StructuralError{Table: table, Row: -1, Reason: "document is empty, want mapping"}
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, &StructuralError{Table: table, Row: -1,
			Reason: fmt.Sprintf("document is a %s, want mapping", nodeKind(top))}
	}

	var rowsNode *yaml.Node
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, value := top.Content[i], top.Content[i+1]
		switch key.Value {
		case "format_version":
			if value.Value != "" && value.Value != s.version {
				s.warnVersion(table, value.Value)
			}
		case "rows":
			rowsNode = value
		}
	}
	if rowsNode == nil || rowsNode.Tag == "!!null" {
		return nil, nil
	}
	if rowsNode.Kind != yaml.SequenceNode {
		return nil, &StructuralError{Table: table, Row: -1,
			Reason: fmt.Sprintf("rows is a %s, want sequence", nodeKind(rowsNode))}
	}

	rows := make([]map[string]string, 0, len(rowsNode.Content))
	for i, node := range rowsNode.Content {
		if node.Kind != yaml.MappingNode {
			return nil, &StructuralError{Table: table, Row: i,
				Reason: fmt.Sprintf("is a %s, want mapping", nodeKind(node))}
		}
		row := make(map[string]string, len(node.Content)/2)
		for j := 0; j+1 < len(node.Content); j += 2 {
			key, value := node.Content[j], node.Content[j+1]
			if key.Kind != yaml.ScalarNode {
				return nil, &StructuralError{Table: table, Row: i,
					Reason: fmt.Sprintf("has a %s key, want scalar", nodeKind(key))}
			}
			// A bare cell (hand-edited "name:") means NULL: leave the
			// column unset so it inserts as NULL.
			if value.Tag == "!!null" {
				continue
			}
			if value.Kind != yaml.ScalarNode {
				return nil, &StructuralError{Table: table, Row: i,
					Reason: fmt.Sprintf("column %s is a %s, want scalar", key.Value, nodeKind(value))}
			}
			row[key.Value] = value.Value
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// warnVersion logs a format version mismatch. The comparison is advisory:
// reads proceed with the stored rows as-is.
func (s *Store) warnVersion(table, stored string) {
	switch semver.Compare("v"+stored, "v"+s.version) {
	case 1:
		s.logger.Printf("WARNING: table %s stored with newer format version %s (expected %s)",
			table, stored, s.version)
	case -1:
		s.logger.Printf("WARNING: table %s stored with older format version %s (expected %s)",
			table, stored, s.version)
	default:
		s.logger.Printf("WARNING: table %s stored with format version %s (expected %s)",
			table, stored, s.version)
	}
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
