// Package schema describes the relational tables mirrored to YAML documents.
//
// A Schema is consumed read-only by the synchronizer: table names identify
// the on-disk documents, column kinds drive value transcoding, and foreign
// key references determine the dependency order used during load.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the semantic type of a column. The value codec dispatches on it
// rather than on driver-level types.
type Kind int

const (
	// KindOther is any scalar type without dedicated transcoding rules.
	KindOther Kind = iota
	// KindInteger is a whole-number column.
	KindInteger
	// KindFloat is a floating-point column.
	KindFloat
	// KindText is a string column.
	KindText
	// KindBoolean is a true/false column.
	KindBoolean
	// KindBinary is a raw byte payload column.
	KindBinary
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindBinary:
		return "binary"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// ParseKind maps a type name from a schema definition file to a Kind.
// Common SQL aliases are accepted.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "integer", "int", "bigint", "smallint":
		return KindInteger, nil
	case "float", "real", "double":
		return KindFloat, nil
	case "text", "string", "varchar":
		return KindText, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "binary", "blob", "bytes":
		return KindBinary, nil
	case "other", "":
		return KindOther, nil
	default:
		return KindOther, fmt.Errorf("unknown column type %q", name)
	}
}

// Reference names the parent column a foreign key points at.
type Reference struct {
	Table  string
	Column string
}

// Column is a single declared column.
type Column struct {
	Name       string
	Kind       Kind
	Nullable   bool
	PrimaryKey bool
	// References is non-zero when the column is a foreign key.
	References Reference
}

// Table is an ordered set of named columns. Column order and names are
// stable for the duration of a sync operation.
type Table struct {
	Name    string
	Columns []Column
}

// Validate checks that the table has valid field values.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, col := range t.Columns {
		if col.Name == "" {
			return fmt.Errorf("table %s has a column without a name", t.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("table %s declares column %s twice", t.Name, col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// Column returns the declared column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// CreateSQL returns the CREATE TABLE statement for the table.
// The statement is idempotent (IF NOT EXISTS).
func (t *Table) CreateSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quoteIdent(t.Name))

	var pks []string
	for _, col := range t.Columns {
		if col.PrimaryKey {
			pks = append(pks, quoteIdent(col.Name))
		}
	}

	for i, col := range t.Columns {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "\n\t%s %s", quoteIdent(col.Name), sqlType(col.Kind))
		if !col.Nullable && !col.PrimaryKey {
			b.WriteString(" NOT NULL")
		}
		if col.PrimaryKey && len(pks) == 1 {
			b.WriteString(" PRIMARY KEY")
		}
	}
	if len(pks) > 1 {
		fmt.Fprintf(&b, ",\n\tPRIMARY KEY (%s)", strings.Join(pks, ", "))
	}
	for _, col := range t.Columns {
		if col.References.Table == "" {
			continue
		}
		fmt.Fprintf(&b, ",\n\tFOREIGN KEY (%s) REFERENCES %s(%s)",
			quoteIdent(col.Name),
			quoteIdent(col.References.Table),
			quoteIdent(col.References.Column))
	}
	b.WriteString("\n)")
	return b.String()
}

func sqlType(k Kind) string {
	switch k {
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "REAL"
	case KindBoolean:
		return "BOOLEAN"
	case KindBinary:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Schema is the full set of tables, in declaration order.
type Schema struct {
	Tables []Table
}

// Validate checks every table and that foreign keys reference declared
// tables and columns.
func (s *Schema) Validate() error {
	if len(s.Tables) == 0 {
		return fmt.Errorf("schema declares no tables")
	}
	byName := make(map[string]*Table, len(s.Tables))
	for i := range s.Tables {
		t := &s.Tables[i]
		if err := t.Validate(); err != nil {
			return err
		}
		if byName[t.Name] != nil {
			return fmt.Errorf("schema declares table %s twice", t.Name)
		}
		byName[t.Name] = t
	}
	for _, t := range s.Tables {
		for _, col := range t.Columns {
			ref := col.References
			if ref.Table == "" {
				continue
			}
			parent := byName[ref.Table]
			if parent == nil {
				return fmt.Errorf("table %s column %s references unknown table %s",
					t.Name, col.Name, ref.Table)
			}
			if _, ok := parent.Column(ref.Column); !ok {
				return fmt.Errorf("table %s column %s references unknown column %s.%s",
					t.Name, col.Name, ref.Table, ref.Column)
			}
		}
	}
	return nil
}

// Table returns the declared table with the given name.
func (s *Schema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}
