package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotArray is returned when a registry file is not a JSON array.
var ErrNotArray = errors.New("registry file is not an array")

// EncodeFile renders records in the persisted format: a JSON array indented
// with two spaces, no HTML escaping and no trailing newline.
func EncodeFile(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode registry file: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeFile parses a registry file. Every element must be a JSON object.
func DecodeFile(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotArray
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, fmt.Errorf("decode registry file: %w", err)
	}
	out := make([]Record, 0, len(raws))
	for i, raw := range raws {
		var rec Record
		if err := rec.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("decode registry file: [%d]: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// CloneAll deep-copies a record slice.
func CloneAll(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
