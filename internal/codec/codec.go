// Package codec converts typed column values to and from the flat text
// form stored in the per-table YAML documents.
//
// NULL and binary payloads are marked with sentinel tokens. Sentinels are
// not escaped against collision with genuine column content: a text column
// whose value literally equals the NULL token will round-trip to NULL.
package codec

import (
	"encoding/ascii85"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/rbroderi/ysaqml/internal/schema"
)

const (
	// NullToken marks a NULL column value.
	NullToken = "<:__NULL__:>"
	// BlobBase85Token marks a base-85 encoded binary payload.
	BlobBase85Token = "<:__BASE85__:>"
	// BlobBase64Token marks a base-64 encoded binary payload.
	BlobBase64Token = "<:__BASE64__:>"
	// BlobLineWidth is the column at which encoded blob payloads wrap.
	BlobLineWidth = 64
)

// Config is the immutable sentinel configuration for one synchronizer.
// Multiple configs with different sentinel sets can coexist in a process.
type Config struct {
	nullToken string
	blobToken string
}

// NewConfig builds a Config. Empty arguments select the defaults.
// blobToken must be BlobBase85Token or BlobBase64Token.
func NewConfig(nullToken, blobToken string) (Config, error) {
	if nullToken == "" {
		nullToken = NullToken
	}
	if blobToken == "" {
		blobToken = BlobBase85Token
	}
	if blobToken != BlobBase85Token && blobToken != BlobBase64Token {
		return Config{}, fmt.Errorf("blob encoding must be either %s or %s, got %q",
			BlobBase85Token, BlobBase64Token, blobToken)
	}
	return Config{nullToken: nullToken, blobToken: blobToken}, nil
}

// DefaultConfig returns the default sentinel set (base-85 blobs).
func DefaultConfig() Config {
	cfg, err := NewConfig("", "")
	if err != nil {
		panic(err) // defaults are always valid
	}
	return cfg
}

// NullToken returns the configured NULL marker.
func (c Config) NullToken() string { return c.nullToken }

// BlobToken returns the configured binary payload marker.
func (c Config) BlobToken() string { return c.blobToken }

// EncodeValue converts one column value to its text form.
//
// nil becomes the NULL token, booleans become "true"/"false", byte slices
// become a sentinel line followed by the line-wrapped encoded payload, and
// any other scalar becomes its canonical string form.
func (c Config) EncodeValue(value any) string {
	switch v := value.(type) {
	case nil:
		return c.nullToken
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []byte:
		return c.encodeBlob(v)
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// DecodeValue converts one text cell back to the typed value matching the
// declared column kind.
//
// Booleans and binary payloads decode strictly (an unparseable value is an
// error naming the column); other scalar kinds fall back to the raw text
// when the exact parse fails, since the relational layer re-validates on
// insert.
func (c Config) DecodeValue(col schema.Column, text string) (any, error) {
	if text == c.nullToken {
		return nil, nil
	}

	switch col.Kind {
	case schema.KindBinary:
		raw, err := decodeBlob(text)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return raw, nil
	case schema.KindBoolean:
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "1", "true", "t", "yes", "y", "on":
			return true, nil
		case "0", "false", "f", "no", "n", "off":
			return false, nil
		default:
			return nil, fmt.Errorf("cannot coerce value %q into bool for column %s", text, col.Name)
		}
	case schema.KindInteger:
		if n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64); err == nil {
			return n, nil
		}
		return text, nil
	case schema.KindFloat:
		if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return f, nil
		}
		return text, nil
	default:
		return text, nil
	}
}

// encodeBlob renders raw bytes as the configured sentinel followed by the
// encoded payload wrapped at BlobLineWidth. An empty payload encodes to
// the bare sentinel.
func (c Config) encodeBlob(raw []byte) string {
	var payload string
	switch c.blobToken {
	case BlobBase64Token:
		payload = base64.StdEncoding.EncodeToString(raw)
	default:
		buf := make([]byte, ascii85.MaxEncodedLen(len(raw)))
		n := ascii85.Encode(buf, raw)
		payload = string(buf[:n])
	}
	if payload == "" {
		return c.blobToken
	}
	return c.blobToken + "\n" + wrap(payload, BlobLineWidth)
}

// decodeBlob reconstructs bytes from a sentinel-marked payload. Both
// sentinels are accepted regardless of the configured encoding so that
// documents written with either marker stay readable.
func decodeBlob(text string) ([]byte, error) {
	if payload, ok := strings.CutPrefix(text, BlobBase85Token); ok {
		return decodePayload(payload, decodeASCII85)
	}
	if payload, ok := strings.CutPrefix(text, BlobBase64Token); ok {
		return decodePayload(payload, base64.StdEncoding.DecodeString)
	}
	return nil, fmt.Errorf("binary value must start with %s or %s", BlobBase85Token, BlobBase64Token)
}

func decodePayload(payload string, decode func(string) ([]byte, error)) ([]byte, error) {
	joined := strings.ReplaceAll(strings.TrimLeft(payload, "\n"), "\n", "")
	if joined == "" {
		return []byte{}, nil
	}
	raw, err := decode(joined)
	if err != nil {
		return nil, fmt.Errorf("invalid binary payload: %w", err)
	}
	return raw, nil
}

func decodeASCII85(payload string) ([]byte, error) {
	// Worst case every input byte is a 'z' group expanding to four bytes.
	buf := make([]byte, len(payload)*4)
	n, _, err := ascii85.Decode(buf, []byte(payload), true)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func wrap(s string, width int) string {
	if len(s) <= width {
		return s
	}
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteByte('\n')
		s = s[width:]
	}
	b.WriteString(s)
	return b.String()
}
