package codec

import (
	"fmt"

	"github.com/rbroderi/ysaqml/internal/schema"
)

// EncodedRow is the flat on-disk form of a row: every declared column
// mapped to its text value (or a sentinel).
type EncodedRow = map[string]string

// DecodedRow is the typed in-memory form of a row. Columns absent from
// the source document are absent from the map (unset, not NULL).
type DecodedRow = map[string]any

// DecodeError pinpoints the cell that could not be decoded, so a caller
// can locate it in the document without re-parsing.
type DecodeError struct {
	Table string
	Row   int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("table %s row %d: %v", e.Table, e.Row, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeRow converts a typed row to its flat form. Every declared column
// is present in the output; columns missing from the input encode as NULL.
func (c Config) EncodeRow(table schema.Table, row DecodedRow) EncodedRow {
	encoded := make(EncodedRow, len(table.Columns))
	for _, col := range table.Columns {
		encoded[col.Name] = c.EncodeValue(row[col.Name])
	}
	return encoded
}

// DecodeRow converts a flat row back to typed values. Columns without an
// entry in raw are omitted from the result. index is the row's ordinal
// position in the document, used for error reporting.
func (c Config) DecodeRow(table schema.Table, index int, raw EncodedRow) (DecodedRow, error) {
	decoded := make(DecodedRow, len(raw))
	for _, col := range table.Columns {
		text, ok := raw[col.Name]
		if !ok {
			continue
		}
		value, err := c.DecodeValue(col, text)
		if err != nil {
			return nil, &DecodeError{Table: table.Name, Row: index, Err: err}
		}
		decoded[col.Name] = value
	}
	return decoded, nil
}
