// Package registry defines the shared vocabulary of the reference registries:
// registry names, ordered records, the persisted file format and the error
// taxonomy used by the validation and synchronized-write engine.
package registry

import (
	"fmt"
	"path"
	"strings"
)

// Name identifies one of the fixed registries.
type Name string

const (
	Organizations Name = "organizations"
	Species       Name = "species"
	Genets        Name = "genets"
)

// SchemaVersionField is the reserved field stamped on every validated record.
const SchemaVersionField = "_schemaVersion"

// DefaultDataDir is the directory holding registry files in the remote store.
const DefaultDataDir = "data"

// Names returns all registries in display order.
func Names() []Name {
	return []Name{Organizations, Species, Genets}
}

// Parse resolves a registry name, rejecting anything outside the fixed set.
func Parse(raw string) (Name, error) {
	name := Name(strings.ToLower(strings.TrimSpace(raw)))
	if !name.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRegistry, raw)
	}
	return name, nil
}

// Valid reports whether n is one of the known registries.
func (n Name) Valid() bool {
	switch n {
	case Organizations, Species, Genets:
		return true
	default:
		return false
	}
}

func (n Name) String() string { return string(n) }

// IdentifierField returns the field that must be unique within the registry.
func (n Name) IdentifierField() string {
	if n == Species {
		return "code"
	}
	return "id"
}

// Path returns the registry's file path under dataDir. An empty dataDir
// falls back to DefaultDataDir.
func (n Name) Path(dataDir string) string {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	return path.Join(dataDir, string(n)+".json")
}

// ForeignKey declares that Field must equal TargetField of some record in Target.
type ForeignKey struct {
	Field       string
	Target      Name
	TargetField string
}

// ForeignKeys returns the cross-registry references declared for n.
func (n Name) ForeignKeys() []ForeignKey {
	if n != Genets {
		return nil
	}
	return []ForeignKey{
		{Field: "orgId", Target: Organizations, TargetField: Organizations.IdentifierField()},
		{Field: "speciesCode", Target: Species, TargetField: Species.IdentifierField()},
	}
}

// Related returns the registries n references, in declaration order.
func (n Name) Related() []Name {
	keys := n.ForeignKeys()
	out := make([]Name, 0, len(keys))
	for _, fk := range keys {
		out = append(out, fk.Target)
	}
	return out
}
