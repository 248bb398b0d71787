// Package validation runs the submission pipeline for a candidate record:
// schema version stamping, structural validation and cross-registry rules.
package validation

import (
	"context"
	"fmt"

	"github.com/OpenCoralTools/oct-registry/internal/cache"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// Structural validates a record against a compiled schema.
type Structural interface {
	Validate(rec registry.Record) (registry.Record, error)
}

// Rule is a cross-record check run after structural validation succeeded.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, name registry.Name, rec registry.Record, view cache.View) error
}

// Input is one submission.
type Input struct {
	Registry      registry.Name
	Candidate     registry.Record
	Validator     Structural
	SchemaVersion string
	View          cache.View
}

// Engine orchestrates stamping, schema validation and rule evaluation.
type Engine struct {
	rules map[registry.Name][]Rule
}

// NewEngine constructs an engine without rules.
func NewEngine() *Engine {
	return &Engine{rules: make(map[registry.Name][]Rule)}
}

// NewDefaultEngine registers a foreign key rule for every declared reference.
func NewDefaultEngine() *Engine {
	e := NewEngine()
	for _, name := range registry.Names() {
		for _, fk := range name.ForeignKeys() {
			e.Register(name, ForeignKeyRule(fk))
		}
	}
	return e
}

// Register appends a rule for name.
func (e *Engine) Register(name registry.Name, rule Rule) {
	e.rules[name] = append(e.rules[name], rule)
}

// Rules returns the rules registered for name in evaluation order.
func (e *Engine) Rules(name registry.Name) []Rule {
	out := make([]Rule, len(e.rules[name]))
	copy(out, e.rules[name])
	return out
}

// Validate stamps the candidate with the schema version, validates it
// structurally, then evaluates the registry's rules in order. The first
// failure aborts. The returned record is the stamped candidate; the input
// record is never modified.
func (e *Engine) Validate(ctx context.Context, in Input) (registry.Record, error) {
	if in.Validator == nil {
		return registry.Record{}, &registry.SchemaUnavailableError{Registry: in.Registry, Err: fmt.Errorf("no validator")}
	}
	stamped := Stamp(in.Candidate, in.SchemaVersion)
	validated, err := in.Validator.Validate(stamped)
	if err != nil {
		return registry.Record{}, err
	}
	view := in.View
	if view == nil {
		view = cache.NewView(nil)
	}
	for _, rule := range e.rules[in.Registry] {
		if err := ctx.Err(); err != nil {
			return registry.Record{}, err
		}
		if err := rule.Evaluate(ctx, in.Registry, validated, view); err != nil {
			return registry.Record{}, err
		}
	}
	return validated, nil
}

// Stamp returns a copy of rec with the schema version field set. An existing
// value is overwritten in place.
func Stamp(rec registry.Record, version string) registry.Record {
	out := rec.Clone()
	out.Set(registry.SchemaVersionField, version)
	return out
}
