package editor

import (
	"fmt"
	"strings"

	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// Option is a selectable value for a foreign key field.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Options returns choices for a foreign key field. Choices are offered only
// once every related snapshot is loaded; otherwise the field is free text
// and ok is false.
func (e *Editor) Options(field string) (opts []Option, ok bool) {
	var target registry.ForeignKey
	found := false
	for _, fk := range e.name.ForeignKeys() {
		if fk.Field == field {
			target, found = fk, true
		}
	}
	if !found {
		return nil, false
	}
	for _, name := range e.name.Related() {
		if len(e.cache.Related(name)) == 0 {
			return nil, false
		}
	}
	e.mu.Lock()
	declared := e.labelFields[target.Target]
	e.mu.Unlock()
	for _, rec := range e.cache.Related(target.Target) {
		value := rec.String(target.TargetField)
		opts = append(opts, Option{Label: optionLabel(target.Target, rec, value, declared), Value: value})
	}
	return opts, true
}

// optionLabel reads only fields the related schema declares; without them
// the label is the value itself.
func optionLabel(name registry.Name, rec registry.Record, value string, declared map[string]bool) string {
	field := func(f string) string {
		if !declared[f] {
			return ""
		}
		return strings.TrimSpace(rec.String(f))
	}
	var text string
	switch name {
	case registry.Organizations:
		text = field("name")
	case registry.Species:
		text = field("commonName")
		if text == "" {
			text = strings.TrimSpace(field("genus") + " " + field("specificEpithet"))
		}
	}
	if text == "" {
		return value
	}
	return fmt.Sprintf("%s (%s)", text, value)
}
