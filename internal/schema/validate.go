package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// Validate checks rec against the schema and returns a copy of it. Every
// failing field is reported in a *registry.SchemaValidationError, in schema
// field order followed by undeclared fields.
func (v *Validator) Validate(rec registry.Record) (registry.Record, error) {
	verr := &registry.SchemaValidationError{Registry: v.registry}
	for _, f := range v.fields {
		val, present := rec.Get(f.Name)
		if !present || (val == nil && !f.Accepts(TypeNull)) {
			if f.Required {
				verr.Add(f.Name, registry.CodeRequired, "missing required field")
			}
			continue
		}
		checkValue(verr, f, val)
	}
	if !v.additionalProperties {
		for _, key := range rec.Keys() {
			if key == registry.SchemaVersionField {
				continue
			}
			if _, declared := v.index[key]; !declared {
				verr.Add(key, registry.CodeUnknown, "field is not declared by the schema")
			}
		}
	}
	if err := verr.ToError(); err != nil {
		return registry.Record{}, err
	}
	return rec.Clone(), nil
}

func checkValue(verr *registry.SchemaValidationError, f Field, val any) {
	kind, ok := valueKind(val)
	if !ok || !f.Accepts(kind) {
		verr.Add(f.Name, registry.CodeType, fmt.Sprintf("expected %s, got %s", strings.Join(f.Types, " or "), describeKind(kind, ok)))
		return
	}
	switch kind {
	case TypeString:
		checkString(verr, f, val.(string))
	case TypeNumber, TypeInteger:
		n, err := strconv.ParseFloat(registry.ScalarString(val), 64)
		if err != nil {
			verr.Add(f.Name, registry.CodeType, "expected a finite number")
			return
		}
		if f.minimum != nil && n < *f.minimum {
			verr.Add(f.Name, registry.CodeMinimum, fmt.Sprintf("must be >= %s", formatFloat(*f.minimum)))
		}
		if f.maximum != nil && n > *f.maximum {
			verr.Add(f.Name, registry.CodeMaximum, fmt.Sprintf("must be <= %s", formatFloat(*f.maximum)))
		}
	}
}

func checkString(verr *registry.SchemaValidationError, f Field, s string) {
	length := utf8.RuneCountInString(s)
	if f.minLength != nil && length < *f.minLength {
		verr.Add(f.Name, registry.CodeMinLength, fmt.Sprintf("expected min length %d", *f.minLength))
	}
	if f.maxLength != nil && length > *f.maxLength {
		verr.Add(f.Name, registry.CodeMaxLength, fmt.Sprintf("expected max length %d", *f.maxLength))
	}
	if len(f.Enum) > 0 && !contains(f.Enum, s) {
		verr.Add(f.Name, registry.CodeEnum, fmt.Sprintf("value %q not in %s", s, strings.Join(f.Enum, ", ")))
	}
	if f.pattern != nil && !f.pattern.MatchString(s) {
		verr.Add(f.Name, registry.CodePattern, fmt.Sprintf("value %q does not match pattern", s))
	}
	if f.Format != "" {
		if err := checkFormat(f.Format, s); err != nil {
			verr.Add(f.Name, registry.CodeFormat, err.Error())
		}
	}
}

func checkFormat(format, s string) error {
	switch format {
	case formatDate:
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return fmt.Errorf("invalid date %q", s)
		}
	case formatDateTime:
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("invalid date-time %q", s)
		}
	case formatEmail:
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Errorf("invalid email %q", s)
		}
	case formatURI:
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("invalid uri %q", s)
		}
	}
	return nil
}

// valueKind classifies a decoded record value.
func valueKind(val any) (string, bool) {
	switch t := val.(type) {
	case nil:
		return TypeNull, true
	case string:
		return TypeString, true
	case bool:
		return TypeBoolean, true
	case json.Number:
		if strings.ContainsAny(t.String(), ".eE") {
			if f, err := t.Float64(); err == nil && f == math.Trunc(f) {
				return TypeInteger, true
			}
			return TypeNumber, true
		}
		return TypeInteger, true
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return TypeInteger, true
		}
		return TypeNumber, true
	case float32:
		return valueKind(float64(t))
	case int, int32, int64:
		return TypeInteger, true
	case json.RawMessage:
		return typeObject, false
	default:
		return fmt.Sprintf("%T", val), false
	}
}

func describeKind(kind string, ok bool) string {
	if !ok {
		if kind == typeObject {
			return "nested value"
		}
		return "unsupported value"
	}
	return kind
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
