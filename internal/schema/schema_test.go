package schema

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

const speciesSchema = `{
  "version": "1.2.0",
  "type": "object",
  "properties": {
    "code": {"type": "string", "pattern": "^[A-Z]{4}$"},
    "genus": {"type": "string", "minLength": 1},
    "specificEpithet": {"type": "string"},
    "commonName": {"type": "string"},
    "_schemaVersion": {"type": "string"}
  },
  "required": ["code", "genus", "_schemaVersion"]
}`

func mustCompile(t *testing.T, name registry.Name, doc string) *Validator {
	t.Helper()
	v, err := Compile(name, []byte(doc))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return v
}

func TestCompileKeepsFieldOrder(t *testing.T) {
	v := mustCompile(t, registry.Species, speciesSchema)
	fields := v.Fields()
	want := []string{"code", "genus", "specificEpithet", "commonName", "_schemaVersion"}
	if len(fields) != len(want) {
		t.Fatalf("fields %v", fields)
	}
	for i, f := range fields {
		if f.Name != want[i] {
			t.Fatalf("field %d = %s want %s", i, f.Name, want[i])
		}
	}
	if f, ok := v.Field("commonName"); !ok || f.Required {
		t.Fatalf("commonName should be optional")
	}
	if v.Version() != "1.2.0" {
		t.Fatalf("version %q", v.Version())
	}
}

func TestCompileVersionFallsBackToUnknown(t *testing.T) {
	for _, doc := range []string{
		`{"properties":{"id":{"type":"string"}}}`,
		`{"version":"","properties":{"id":{"type":"string"}}}`,
		`{"version":3,"properties":{"id":{"type":"string"}}}`,
	} {
		v := mustCompile(t, registry.Organizations, doc)
		if v.Version() != UnknownVersion {
			t.Fatalf("expected unknown version for %s, got %q", doc, v.Version())
		}
	}
}

func TestCompileRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"not json":         `{`,
		"root array":       `{"type":"array","properties":{}}`,
		"no properties":    `{"type":"object"}`,
		"undefined req":    `{"properties":{"id":{"type":"string"}},"required":["name"]}`,
		"bad type":         `{"properties":{"id":{"type":"object"}}}`,
		"bad pattern":      `{"properties":{"id":{"type":"string","pattern":"("}}}`,
		"enum on number":   `{"properties":{"n":{"type":"number","enum":["1"]}}}`,
		"minimum on str":   `{"properties":{"n":{"type":"string","minimum":1}}}`,
		"unknown format":   `{"properties":{"n":{"type":"string","format":"ipv9"}}}`,
		"negative minimum": `{"properties":{"n":{"type":"string","minLength":-1}}}`,
	}
	for name, doc := range cases {
		if _, err := Compile(registry.Species, []byte(doc)); err == nil {
			t.Fatalf("%s: expected compile error", name)
		}
	}
}

// Scenario A: missing required code is reported by name.
func TestValidateReportsMissingRequiredField(t *testing.T) {
	v := mustCompile(t, registry.Species, speciesSchema)
	rec := registry.NewRecord("genus", "Acropora", "specificEpithet", "cervicornis", "_schemaVersion", "1.2.0")
	_, err := v.Validate(rec)
	var verr *registry.SchemaValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	if !verr.Has("code") || len(verr.Fields) != 1 || verr.Fields[0].Code != registry.CodeRequired {
		t.Fatalf("unexpected field errors %+v", verr.Fields)
	}
}

func TestValidateReportsEveryFailingField(t *testing.T) {
	v := mustCompile(t, registry.Species, speciesSchema)
	rec := registry.NewRecord("code", "acer", "genus", 12, "commonName", true)
	_, err := v.Validate(rec)
	var verr *registry.SchemaValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	for _, field := range []string{"code", "genus", "commonName", "_schemaVersion"} {
		if !verr.Has(field) {
			t.Fatalf("expected failure for %s in %+v", field, verr.Fields)
		}
	}
}

func TestValidateConstraints(t *testing.T) {
	doc := `{
	  "additionalProperties": false,
	  "properties": {
	    "id": {"type": "string", "maxLength": 3},
	    "kind": {"type": "string", "enum": ["wild", "nursery"]},
	    "depth": {"type": "number", "minimum": 0, "maximum": 40},
	    "count": {"type": "integer"},
	    "collected": {"type": "string", "format": "date"},
	    "site": {"type": "string", "format": "uri"},
	    "contact": {"type": "string", "format": "email"},
	    "notes": {"type": ["string", "null"]}
	  },
	  "required": ["id"]
	}`
	v := mustCompile(t, registry.Genets, doc)

	ok := registry.NewRecord("id", "g1", "kind", "wild", "depth", 12.5, "count", 3,
		"collected", "2024-02-29", "site", "https://reef.example/site", "contact", "a@b.org", "notes", nil,
		registry.SchemaVersionField, "1.0.0")
	if _, err := v.Validate(ok); err != nil {
		t.Fatalf("expected valid record: %v", err)
	}

	bad := registry.NewRecord("id", "toolong", "kind", "farm", "depth", 41, "count", 1.5,
		"collected", "2024-13-01", "site", "not a uri", "contact", "nope", "extra", "x")
	_, err := v.Validate(bad)
	var verr *registry.SchemaValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	codes := map[string]string{}
	for _, f := range verr.Fields {
		codes[f.Field] = f.Code
	}
	want := map[string]string{
		"id":        registry.CodeMaxLength,
		"kind":      registry.CodeEnum,
		"depth":     registry.CodeMaximum,
		"count":     registry.CodeType,
		"collected": registry.CodeFormat,
		"site":      registry.CodeFormat,
		"contact":   registry.CodeFormat,
		"extra":     registry.CodeUnknown,
	}
	for field, code := range want {
		if codes[field] != code {
			t.Fatalf("field %s: code %q want %q (all: %+v)", field, codes[field], code, verr.Fields)
		}
	}
}

func TestValidateNullOnOptionalFieldIsAbsent(t *testing.T) {
	v := mustCompile(t, registry.Species, speciesSchema)
	rec := registry.NewRecord("code", "ACER", "genus", "Acropora", "commonName", nil, "_schemaVersion", "1")
	if _, err := v.Validate(rec); err != nil {
		t.Fatalf("null optional should pass: %v", err)
	}
}

func TestValidateLeavesRecordUnchanged(t *testing.T) {
	v := mustCompile(t, registry.Species, speciesSchema)
	rec := registry.NewRecord("code", "ACER", "genus", "Acropora", "_schemaVersion", "1.2.0", "unlisted", "kept")
	out, err := v.Validate(rec)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !out.Equal(rec) {
		t.Fatalf("validated record differs: %v vs %v", out.Keys(), rec.Keys())
	}
}

func TestLoaderFromFS(t *testing.T) {
	fsys := fstest.MapFS{"schemas/species.json": {Data: []byte(speciesSchema)}}
	loader := NewLoader(NewFSSource(fsys, "schemas"))
	v, version, err := loader.Load(context.Background(), registry.Species)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if version != "1.2.0" || v.Registry() != registry.Species {
		t.Fatalf("unexpected validator %s %s", version, v.Registry())
	}
	if _, _, err := loader.Load(context.Background(), registry.Genets); !errors.Is(err, registry.ErrSchemaUnavailable) {
		t.Fatalf("expected schema unavailable for missing doc, got %v", err)
	}
}

func TestLoaderFromHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/schemas/species.json":
			_, _ = w.Write([]byte(speciesSchema))
		case "/schemas/organizations.json":
			_, _ = w.Write([]byte(`{"properties": [}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	loader := NewLoader(NewHTTPSource(srv.URL+"/", WithHTTPClient(srv.Client())))
	if _, version, err := loader.Load(context.Background(), registry.Species); err != nil || version != "1.2.0" {
		t.Fatalf("load species: %v %s", err, version)
	}
	if _, _, err := loader.Load(context.Background(), registry.Organizations); !errors.Is(err, registry.ErrSchemaUnavailable) {
		t.Fatalf("expected unparseable schema to be unavailable, got %v", err)
	}
	if _, _, err := loader.Load(context.Background(), registry.Genets); !errors.Is(err, registry.ErrSchemaUnavailable) {
		t.Fatalf("expected 404 to be unavailable, got %v", err)
	}
}

func TestLoaderWithoutSource(t *testing.T) {
	var l *Loader
	if _, _, err := l.Load(context.Background(), registry.Species); !errors.Is(err, registry.ErrSchemaUnavailable) {
		t.Fatalf("expected schema unavailable, got %v", err)
	}
}
