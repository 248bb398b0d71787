package schema

import (
	"context"
	"fmt"

	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// Loader fetches and compiles schemas. Nothing is cached: each Load reflects
// the document currently served by the source.
type Loader struct {
	source Source
}

// NewLoader constructs a loader over source.
func NewLoader(source Source) *Loader {
	return &Loader{source: source}
}

// Load fetches the schema for name and returns the compiled validator and its
// version. Any fetch or compile failure is a *registry.SchemaUnavailableError.
func (l *Loader) Load(ctx context.Context, name registry.Name) (*Validator, string, error) {
	if l == nil || l.source == nil {
		return nil, "", &registry.SchemaUnavailableError{Registry: name, Err: fmt.Errorf("no schema source configured")}
	}
	data, err := l.source.Fetch(ctx, name)
	if err != nil {
		return nil, "", &registry.SchemaUnavailableError{Registry: name, Err: fmt.Errorf("fetch: %w", err)}
	}
	v, err := Compile(name, data)
	if err != nil {
		return nil, "", &registry.SchemaUnavailableError{Registry: name, Err: err}
	}
	return v, v.Version(), nil
}
