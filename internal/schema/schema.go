// Package schema compiles registry schema documents into structural
// validators. The supported document shape is a JSON-Schema subset: an object
// with ordered properties, a required list and per-field primitive types and
// constraints, plus an optional top-level version string.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// UnknownVersion is used when a schema document declares no version.
const UnknownVersion = "unknown"

const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeNull    = "null"
	typeObject  = "object"
)

const (
	formatDate     = "date"
	formatDateTime = "date-time"
	formatEmail    = "email"
	formatURI      = "uri"
)

var allowedFormats = map[string]bool{
	formatDate:     true,
	formatDateTime: true,
	formatEmail:    true,
	formatURI:      true,
}

// Field is one declared property, in document order.
type Field struct {
	Name        string   `json:"name"`
	Types       []string `json:"types"`
	Required    bool     `json:"required"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Format      string   `json:"format,omitempty"`

	pattern   *regexp.Regexp
	minLength *int
	maxLength *int
	minimum   *float64
	maximum   *float64
}

// Accepts reports whether the field declares type t.
func (f Field) Accepts(t string) bool {
	for _, ft := range f.Types {
		if ft == t || (ft == TypeNumber && t == TypeInteger) {
			return true
		}
	}
	return false
}

// Validator is a compiled registry schema.
type Validator struct {
	registry             registry.Name
	version              string
	fields               []Field
	index                map[string]int
	additionalProperties bool
}

// Registry returns the registry the schema describes.
func (v *Validator) Registry() registry.Name { return v.registry }

// Version returns the declared schema version or UnknownVersion.
func (v *Validator) Version() string { return v.version }

// Fields returns the declared fields in document order.
func (v *Validator) Fields() []Field {
	out := make([]Field, len(v.fields))
	copy(out, v.fields)
	return out
}

// Field looks up a declared field.
func (v *Validator) Field(name string) (Field, bool) {
	i, ok := v.index[name]
	if !ok {
		return Field{}, false
	}
	return v.fields[i], true
}

type document struct {
	Version              json.RawMessage `json:"version,omitempty"`
	Type                 string          `json:"type,omitempty"`
	Properties           json.RawMessage `json:"properties,omitempty"`
	Required             []string        `json:"required,omitempty"`
	AdditionalProperties *bool           `json:"additionalProperties,omitempty"`
}

type property struct {
	Type        typeList `json:"type,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Format      string   `json:"format,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	MinLength   *int     `json:"minLength,omitempty"`
	MaxLength   *int     `json:"maxLength,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// typeList accepts either "string" or ["string","null"].
type typeList []string

func (t *typeList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = typeList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("type must be a string or list of strings")
	}
	*t = many
	return nil
}

// Compile parses a schema document for name.
func Compile(name registry.Name, data []byte) (*Validator, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if doc.Type != "" && doc.Type != typeObject {
		return nil, fmt.Errorf("$: unsupported root type %q", doc.Type)
	}
	if len(doc.Properties) == 0 {
		return nil, fmt.Errorf("$: object schema missing properties")
	}
	names, props, err := orderedProperties(doc.Properties)
	if err != nil {
		return nil, err
	}
	v := &Validator{
		registry:             name,
		version:              extractVersion(doc.Version),
		index:                make(map[string]int, len(names)),
		additionalProperties: doc.AdditionalProperties == nil || *doc.AdditionalProperties,
	}
	required := make(map[string]bool, len(doc.Required))
	for _, req := range doc.Required {
		if _, ok := props[req]; !ok {
			return nil, fmt.Errorf("$: required property %q not defined", req)
		}
		required[req] = true
	}
	for _, key := range names {
		field, err := compileField(key, props[key], required[key])
		if err != nil {
			return nil, err
		}
		v.index[key] = len(v.fields)
		v.fields = append(v.fields, field)
	}
	return v, nil
}

func extractVersion(raw json.RawMessage) string {
	if len(raw) == 0 {
		return UnknownVersion
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return UnknownVersion
	}
	return s
}

// orderedProperties decodes the properties object keeping declaration order.
func orderedProperties(raw json.RawMessage) ([]string, map[string]property, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("$.properties: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("$.properties: expected object")
	}
	var names []string
	props := make(map[string]property)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("$.properties: %w", err)
		}
		key, _ := tok.(string)
		var p property
		if err := dec.Decode(&p); err != nil {
			return nil, nil, fmt.Errorf("$.properties.%s: %w", key, err)
		}
		if _, dup := props[key]; !dup {
			names = append(names, key)
		}
		props[key] = p
	}
	return names, props, nil
}

func compileField(name string, p property, required bool) (Field, error) {
	path := "$.properties." + name
	types := []string(p.Type)
	if len(types) == 0 {
		types = []string{TypeString}
	}
	for _, t := range types {
		switch t {
		case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeNull:
		default:
			return Field{}, fmt.Errorf("%s: unsupported schema type %q", path, t)
		}
	}
	f := Field{
		Name:        name,
		Types:       types,
		Required:    required,
		Title:       p.Title,
		Description: p.Description,
		Enum:        p.Enum,
		Format:      p.Format,
		minLength:   p.MinLength,
		maxLength:   p.MaxLength,
		minimum:     p.Minimum,
		maximum:     p.Maximum,
	}
	isString := f.Accepts(TypeString)
	isNumeric := f.Accepts(TypeNumber) || f.Accepts(TypeInteger)
	if len(p.Enum) > 0 && !isString {
		return Field{}, fmt.Errorf("%s: enum only supported for string type", path)
	}
	if p.Format != "" {
		if !isString || !allowedFormats[p.Format] {
			return Field{}, fmt.Errorf("%s: unsupported format %q", path, p.Format)
		}
	}
	if (p.MinLength != nil || p.MaxLength != nil) && !isString {
		return Field{}, fmt.Errorf("%s: length constraints only supported for string type", path)
	}
	if p.MinLength != nil && *p.MinLength < 0 {
		return Field{}, fmt.Errorf("%s: minLength must be >= 0", path)
	}
	if (p.Minimum != nil || p.Maximum != nil) && !isNumeric {
		return Field{}, fmt.Errorf("%s: minimum/maximum only supported for numeric types", path)
	}
	if p.Pattern != "" {
		if !isString {
			return Field{}, fmt.Errorf("%s: pattern only supported for string type", path)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return Field{}, fmt.Errorf("%s: invalid pattern %q: %w", path, p.Pattern, err)
		}
		f.pattern = re
	}
	return f, nil
}
