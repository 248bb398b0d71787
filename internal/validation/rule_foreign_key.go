package validation

import (
	"context"

	"github.com/OpenCoralTools/oct-registry/internal/cache"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// ForeignKeyRule requires fk.Field to match fk.TargetField of some record in
// fk.Target. The check is skipped while the target snapshot is empty, so an
// unavailable related registry never blocks a save.
func ForeignKeyRule(fk registry.ForeignKey) Rule {
	return foreignKeyRule{fk: fk}
}

type foreignKeyRule struct {
	fk registry.ForeignKey
}

func (r foreignKeyRule) Name() string { return "foreign_key_" + r.fk.Field }

func (r foreignKeyRule) Evaluate(_ context.Context, _ registry.Name, rec registry.Record, view cache.View) error {
	if len(view.Records(r.fk.Target)) == 0 {
		return nil
	}
	value := rec.String(r.fk.Field)
	if view.Contains(r.fk.Target, r.fk.TargetField, value) {
		return nil
	}
	return &registry.ReferentialIntegrityError{Field: r.fk.Field, Value: value, Target: r.fk.Target}
}
