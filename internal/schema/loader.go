package schema

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// schemaFile mirrors the TOML schema definition format:
//
//	[[tables]]
//	name = "teams"
//
//	[[tables.columns]]
//	name = "id"
//	type = "integer"
//	primary_key = true
//
//	[[tables.columns]]
//	name = "title"
//	type = "text"
//	nullable = false
type schemaFile struct {
	Tables []tableDef `toml:"tables"`
}

type tableDef struct {
	Name    string      `toml:"name"`
	Columns []columnDef `toml:"columns"`
}

type columnDef struct {
	Name       string `toml:"name"`
	Type       string `toml:"type"`
	Nullable   *bool  `toml:"nullable"`
	PrimaryKey bool   `toml:"primary_key"`
	// References points at a parent column as "table.column".
	References string `toml:"references"`
}

// LoadFile reads a TOML schema definition and returns the validated Schema.
func LoadFile(path string) (*Schema, error) {
	var def schemaFile
	if _, err := toml.DecodeFile(path, &def); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return fromDef(&def)
}

// Parse reads a TOML schema definition from a string. Used in tests and by
// callers that embed schema definitions.
func Parse(data string) (*Schema, error) {
	var def schemaFile
	if _, err := toml.Decode(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse schema definition: %w", err)
	}
	return fromDef(&def)
}

func fromDef(def *schemaFile) (*Schema, error) {
	sc := &Schema{Tables: make([]Table, 0, len(def.Tables))}
	for _, td := range def.Tables {
		table := Table{Name: td.Name, Columns: make([]Column, 0, len(td.Columns))}
		for _, cd := range td.Columns {
			kind, err := ParseKind(cd.Type)
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", td.Name, cd.Name, err)
			}
			col := Column{
				Name:       cd.Name,
				Kind:       kind,
				PrimaryKey: cd.PrimaryKey,
			}
			// Columns are nullable unless marked otherwise; primary keys
			// are never nullable.
			if cd.Nullable != nil {
				col.Nullable = *cd.Nullable
			} else {
				col.Nullable = !cd.PrimaryKey
			}
			if cd.References != "" {
				ref, err := parseReference(cd.References)
				if err != nil {
					return nil, fmt.Errorf("table %s column %s: %w", td.Name, cd.Name, err)
				}
				col.References = ref
			}
			table.Columns = append(table.Columns, col)
		}
		sc.Tables = append(sc.Tables, table)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func parseReference(spec string) (Reference, error) {
	table, column, ok := strings.Cut(spec, ".")
	if !ok || table == "" || column == "" {
		return Reference{}, fmt.Errorf("references must be of the form \"table.column\", got %q", spec)
	}
	return Reference{Table: table, Column: column}, nil
}
