package cache

import "github.com/OpenCoralTools/oct-registry/pkg/registry"

// View exposes related registry snapshots to rules.
type View interface {
	// Records returns the snapshot for name; empty when unavailable.
	Records(name registry.Name) []registry.Record
	// Contains reports whether some record of name has field equal to value.
	Contains(name registry.Name, field, value string) bool
}

type snapshotView map[registry.Name][]registry.Record

// NewView builds a View from explicit snapshots.
func NewView(snapshots map[registry.Name][]registry.Record) View {
	v := make(snapshotView, len(snapshots))
	for name, recs := range snapshots {
		if len(recs) > 0 {
			v[name] = registry.CloneAll(recs)
		}
	}
	return v
}

func (v snapshotView) Records(name registry.Name) []registry.Record {
	return registry.CloneAll(v[name])
}

func (v snapshotView) Contains(name registry.Name, field, value string) bool {
	return indexOf(v[name], field, value) >= 0
}
