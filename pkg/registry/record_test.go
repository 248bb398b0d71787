package registry

import (
	"encoding/json"
	"testing"
)

func TestRecordSetKeepsPositionOfExistingKey(t *testing.T) {
	r := NewRecord("id", "g1", SchemaVersionField, "1.0.0", "orgId", "org1")
	r.Set(SchemaVersionField, "2.0.0")
	r.Set("notes", "n")
	want := []string{"id", SchemaVersionField, "orgId", "notes"}
	got := r.Keys()
	if len(got) != len(want) {
		t.Fatalf("keys %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys %v want %v", got, want)
		}
	}
	if r.String(SchemaVersionField) != "2.0.0" {
		t.Fatalf("expected replaced version, got %q", r.String(SchemaVersionField))
	}
}

func TestRecordCloneIsIndependent(t *testing.T) {
	r := NewRecord("id", "a", "tags", json.RawMessage(`["x"]`))
	c := r.Clone()
	c.Set("id", "b")
	c.Set("extra", true)
	if r.String("id") != "a" || r.Has("extra") {
		t.Fatalf("clone mutated source: %v", r.Keys())
	}
	if !r.Equal(NewRecord("id", "a", "tags", json.RawMessage(`[ "x" ]`))) {
		t.Fatalf("expected raw values compared after compaction")
	}
}

func TestRecordDelete(t *testing.T) {
	r := NewRecord("a", 1, "b", 2, "c", 3)
	r.Delete("b")
	r.Delete("missing")
	if r.Len() != 2 || r.Keys()[1] != "c" {
		t.Fatalf("unexpected keys after delete: %v", r.Keys())
	}
}

func TestRecordUnmarshalPreservesOrderAndNumbers(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`{"z":1.50,"a":"x","m":null,"n":{"k":true}}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	keys := r.Keys()
	if keys[0] != "z" || keys[1] != "a" || keys[2] != "m" || keys[3] != "n" {
		t.Fatalf("order lost: %v", keys)
	}
	if r.String("z") != "1.50" {
		t.Fatalf("number literal not preserved: %q", r.String("z"))
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"z":1.50,"a":"x","m":null,"n":{"k":true}}` {
		t.Fatalf("unexpected marshal output %s", out)
	}
}

func TestRecordUnmarshalRejectsNonObject(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`["a"]`), &r); err == nil {
		t.Fatalf("expected error for array")
	}
}

func TestScalarString(t *testing.T) {
	cases := map[string]any{
		"":     nil,
		"x":    "x",
		"12":   json.Number("12"),
		"true": true,
		"1.5":  1.5,
		"7":    7,
	}
	for want, in := range cases {
		if got := ScalarString(in); got != want {
			t.Fatalf("ScalarString(%v)=%q want %q", in, got, want)
		}
	}
}
