// Package cache holds the working copy of one registry together with the
// related snapshots its foreign keys are checked against.
package cache

import (
	"sync"

	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// Cache is safe for concurrent use. Records are copied on the way in and out.
type Cache struct {
	mu       sync.RWMutex
	name     registry.Name
	records  []registry.Record
	revision string
	loaded   bool
	related  map[registry.Name][]registry.Record
}

// New returns an empty cache for name.
func New(name registry.Name) *Cache {
	return &Cache{name: name, related: make(map[registry.Name][]registry.Record)}
}

// Name returns the registry the cache holds.
func (c *Cache) Name() registry.Name { return c.name }

// ReplaceAll swaps the working copy and its revision token.
func (c *Cache) ReplaceAll(records []registry.Record, revision string) {
	cloned := registry.CloneAll(records)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = cloned
	c.revision = revision
	c.loaded = true
}

// Loaded reports whether ReplaceAll has been called.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Records returns a copy of the working collection.
func (c *Cache) Records() []registry.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return registry.CloneAll(c.records)
}

// Revision returns the token the working copy was loaded or committed at.
func (c *Cache) Revision() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revision
}

// Find returns the record whose identifier equals id.
func (c *Cache) Find(id string) (registry.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := indexOf(c.records, c.name.IdentifierField(), id); i >= 0 {
		return c.records[i].Clone(), true
	}
	return registry.Record{}, false
}

// Merge returns the collection that would result from upserting rec, without
// changing the cache. An edit replaces the record with the same identifier or
// appends when none exists; a create fails with *registry.DuplicateIdentifierError
// when the identifier is taken.
func (c *Cache) Merge(rec registry.Record, isEdit bool) ([]registry.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return merge(c.name, c.records, rec, isEdit)
}

// MergeAt is Merge plus the revision the merged collection is based on,
// read under the same lock.
func (c *Cache) MergeAt(rec registry.Record, isEdit bool) ([]registry.Record, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	next, err := merge(c.name, c.records, rec, isEdit)
	return next, c.revision, err
}

// Upsert applies Merge to the cache. The revision is left untouched.
func (c *Cache) Upsert(rec registry.Record, isEdit bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := merge(c.name, c.records, rec, isEdit)
	if err != nil {
		return err
	}
	c.records = next
	return nil
}

func merge(name registry.Name, records []registry.Record, rec registry.Record, isEdit bool) ([]registry.Record, error) {
	field := name.IdentifierField()
	id := rec.String(field)
	next := registry.CloneAll(records)
	i := indexOf(next, field, id)
	switch {
	case i >= 0 && isEdit:
		next[i] = rec.Clone()
	case i >= 0:
		return nil, &registry.DuplicateIdentifierError{Field: field, Value: id}
	default:
		next = append(next, rec.Clone())
	}
	return next, nil
}

// Duplicates returns identifiers that occur more than once, in first-seen order.
func (c *Cache) Duplicates() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return DuplicateIdentifiers(c.name, c.records)
}

// DuplicateIdentifiers reports identifiers of name that occur more than once.
func DuplicateIdentifiers(name registry.Name, records []registry.Record) []string {
	field := name.IdentifierField()
	seen := make(map[string]int, len(records))
	var dups []string
	for _, rec := range records {
		id := rec.String(field)
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}

// SetRelated stores the snapshot of a related registry. A nil slice clears it.
func (c *Cache) SetRelated(name registry.Name, records []registry.Record) {
	cloned := registry.CloneAll(records)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(cloned) == 0 {
		delete(c.related, name)
		return
	}
	c.related[name] = cloned
}

// Related returns the snapshot for name; empty when it was never loaded.
func (c *Cache) Related(name registry.Name) []registry.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return registry.CloneAll(c.related[name])
}

// View returns a read-only lookup over the related snapshots.
func (c *Cache) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := make(snapshotView, len(c.related))
	for name, recs := range c.related {
		v[name] = registry.CloneAll(recs)
	}
	return v
}

func indexOf(records []registry.Record, field, id string) int {
	for i, rec := range records {
		if rec.String(field) == id {
			return i
		}
	}
	return -1
}
