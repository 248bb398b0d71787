// Package editor orchestrates one registry session: concurrent schema and
// data loads, then validated, revision-conditioned saves.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OpenCoralTools/oct-registry/internal/cache"
	"github.com/OpenCoralTools/oct-registry/internal/gateway"
	"github.com/OpenCoralTools/oct-registry/internal/observability"
	"github.com/OpenCoralTools/oct-registry/internal/schema"
	"github.com/OpenCoralTools/oct-registry/internal/validation"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// Credentials is the read-only view of the auth session.
type Credentials interface {
	CurrentToken() string
}

// SchemaLoader fetches and compiles a registry schema.
type SchemaLoader interface {
	Load(ctx context.Context, name registry.Name) (*schema.Validator, string, error)
}

// Fallback returns the locally bundled snapshot of a registry.
type Fallback func(name registry.Name) ([]registry.Record, error)

// Config wires an Editor.
type Config struct {
	Registry    registry.Name
	Store       gateway.Store
	Schemas     SchemaLoader
	Engine      *validation.Engine
	Credentials Credentials
	Fallback    Fallback
	DataDir     string
	Logger      observability.Logger
	Recorder    observability.Recorder
}

// Editor is safe for concurrent use.
type Editor struct {
	name     registry.Name
	path     string
	store    gateway.Store
	schemas  SchemaLoader
	engine   *validation.Engine
	creds    Credentials
	fallback Fallback
	dataDir  string
	logger   observability.Logger
	recorder observability.Recorder
	cache    *cache.Cache

	mu          sync.Mutex
	generation  uint64
	loadSeq     uint64
	appliedSeq  uint64
	closed      bool
	schemaState SchemaState
	dataState   DataState
	validator   *schema.Validator
	version     string
	labelFields map[registry.Name]map[string]bool
	schemaErr   error
	dataErr     error
	source      DataSource
	saving      bool
	saveDone    chan struct{}
	saveState   SaveState
	last        *SaveOutcome
}

// New validates cfg and returns an idle editor.
func New(cfg Config) (*Editor, error) {
	if !cfg.Registry.Valid() {
		return nil, fmt.Errorf("%w: %q", registry.ErrUnknownRegistry, cfg.Registry)
	}
	if cfg.Store == nil {
		return nil, errors.New("editor: store required")
	}
	if cfg.Schemas == nil {
		return nil, errors.New("editor: schema loader required")
	}
	engine := cfg.Engine
	if engine == nil {
		engine = validation.NewDefaultEngine()
	}
	return &Editor{
		name:        cfg.Registry,
		path:        cfg.Registry.Path(cfg.DataDir),
		store:       cfg.Store,
		schemas:     cfg.Schemas,
		engine:      engine,
		creds:       cfg.Credentials,
		fallback:    cfg.Fallback,
		dataDir:     cfg.DataDir,
		logger:      observability.LoggerOrNop(cfg.Logger),
		recorder:    observability.RecorderOrNop(cfg.Recorder),
		cache:       cache.New(cfg.Registry),
		schemaState: SchemaIdle,
		dataState:   DataIdle,
		saveState:   SaveIdle,
	}, nil
}

// Registry returns the registry the session edits.
func (e *Editor) Registry() registry.Name { return e.name }

func (e *Editor) token() string {
	if e.creds == nil {
		return ""
	}
	return e.creds.CurrentToken()
}

// Load runs the schema and data loads concurrently and waits for both. Each
// outcome is recorded independently; the returned error is the schema
// failure, since a data failure degrades to the bundled snapshot.
func (e *Editor) Load(ctx context.Context) error {
	var g errgroup.Group
	var schemaErr error
	g.Go(func() error {
		schemaErr = e.LoadSchema(ctx)
		return nil
	})
	g.Go(func() error {
		_ = e.LoadData(ctx)
		return nil
	})
	_ = g.Wait()
	return schemaErr
}

// begin marks a load as started and returns the generation it belongs to.
func (e *Editor) begin(mark func()) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, false
	}
	mark()
	return e.generation, true
}

// commit applies fn when the session was not closed since generation.
func (e *Editor) commit(generation uint64, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.generation != generation {
		return false
	}
	fn()
	return true
}

// errSuperseded marks a data load whose result arrived after a newer load
// or a committed save.
var errSuperseded = errors.New("editor: data load superseded")

// beginData numbers a data load so results can be applied in order.
func (e *Editor) beginData() (gen, seq uint64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, 0, false
	}
	e.dataState = DataLoading
	e.loadSeq++
	return e.generation, e.loadSeq, true
}

// commitData applies fn for load seq unless the session closed or a newer
// load or committed save has already replaced the working copy.
func (e *Editor) commitData(gen, seq uint64, fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.generation != gen {
		return context.Canceled
	}
	if seq <= e.appliedSeq {
		if seq == e.loadSeq && e.dataState == DataLoading {
			e.dataState = DataReady
			if e.dataErr != nil {
				e.dataState = DataFailed
			}
		}
		return errSuperseded
	}
	e.appliedSeq = seq
	fn()
	return nil
}

// applySaved installs a committed registry. Loads started before it are
// superseded.
func (e *Editor) applySaved(records []registry.Record, revision string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.ReplaceAll(records, revision)
	e.appliedSeq = e.loadSeq
}

// LoadSchema fetches and compiles the registry schema.
func (e *Editor) LoadSchema(ctx context.Context) error {
	gen, ok := e.begin(func() { e.schemaState = SchemaLoading })
	if !ok {
		return registry.ErrNotReady
	}
	start := time.Now()
	v, version, err := e.schemas.Load(ctx, e.name)
	var declared map[registry.Name]map[string]bool
	if err == nil {
		declared = e.loadRelatedFields(ctx)
	}
	applied := e.commit(gen, func() {
		if err != nil {
			e.schemaState, e.schemaErr = SchemaFailed, err
			return
		}
		e.schemaState, e.schemaErr = SchemaReady, nil
		e.validator, e.version = v, version
		e.labelFields = declared
	})
	if !applied {
		return context.Canceled
	}
	if err != nil {
		e.logger.Error("schema load failed", "registry", e.name, "error", err)
		e.recorder.Observe(ctx, "load_schema", "failed", time.Since(start))
		return err
	}
	e.logger.Debug("schema loaded", "registry", e.name, "version", version)
	e.recorder.Observe(ctx, "load_schema", "ready", time.Since(start))
	return nil
}

// loadRelatedFields collects the declared fields of each referenced
// registry's schema. A registry whose schema fails to load is left out.
func (e *Editor) loadRelatedFields(ctx context.Context) map[registry.Name]map[string]bool {
	names := e.name.Related()
	out := make(map[registry.Name]map[string]bool, len(names))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, name := range names {
		g.Go(func() error {
			v, _, err := e.schemas.Load(ctx, name)
			if err != nil {
				e.logger.Warn("related schema unavailable, option labels degrade to values", "registry", e.name, "related", name, "error", err)
				return nil
			}
			fields := make(map[string]bool)
			for _, f := range v.Fields() {
				fields[f.Name] = true
			}
			mu.Lock()
			out[name] = fields
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// LoadData reads the registry from the store. Without a token, or when the
// store is unreachable, the bundled snapshot is used read-only. A missing
// file is an empty registry.
func (e *Editor) LoadData(ctx context.Context) error {
	gen, seq, ok := e.beginData()
	if !ok {
		return registry.ErrNotReady
	}
	start := time.Now()
	remote := e.token() != ""
	var (
		records  []registry.Record
		revision string
		source   = SourceBundled
		loadErr  error
	)
	if remote {
		records, revision, loadErr = e.readRemote(ctx, e.path)
		if loadErr == nil {
			source = SourceRemote
		} else {
			e.logger.Warn("remote registry unavailable, using bundled snapshot", "registry", e.name, "error", loadErr)
		}
	}
	if source == SourceBundled {
		records = e.readBundled(e.name)
	}
	related := e.loadRelated(ctx, source)

	err := e.commitData(gen, seq, func() {
		e.cache.ReplaceAll(records, revision)
		for _, name := range e.name.Related() {
			e.cache.SetRelated(name, related[name])
		}
		e.source = source
		if loadErr != nil {
			e.dataState, e.dataErr = DataFailed, loadErr
			return
		}
		e.dataState, e.dataErr = DataReady, nil
	})
	if errors.Is(err, errSuperseded) {
		e.logger.Debug("discarding superseded registry load", "registry", e.name, "revision", revision)
		e.recorder.Observe(ctx, "load_data", "superseded", time.Since(start))
		return nil
	}
	if err != nil {
		return err
	}
	status := "ready"
	if loadErr != nil {
		status = "failed"
	}
	e.recorder.Observe(ctx, "load_data", status, time.Since(start))
	if dups := cache.DuplicateIdentifiers(e.name, records); len(dups) > 0 {
		e.logger.Warn("registry contains duplicate identifiers", "registry", e.name, "ids", dups)
	}
	return loadErr
}

// Reload refreshes the working copy, typically after a revision conflict.
// It is refused while a submission is in flight.
func (e *Editor) Reload(ctx context.Context) error {
	e.mu.Lock()
	saving := e.saving
	e.mu.Unlock()
	if saving {
		return registry.ErrSaveInProgress
	}
	return e.LoadData(ctx)
}

func (e *Editor) readRemote(ctx context.Context, path string) ([]registry.Record, string, error) {
	f, err := e.store.ReadFile(ctx, path)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	records, err := registry.DecodeFile(f.Content)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w: %v", path, registry.ErrRemoteUnavailable, err)
	}
	return records, f.Revision, nil
}

func (e *Editor) readBundled(name registry.Name) []registry.Record {
	if e.fallback == nil {
		return nil
	}
	records, err := e.fallback(name)
	if err != nil {
		e.logger.Warn("bundled snapshot unavailable", "registry", name, "error", err)
		return nil
	}
	return records
}

// loadRelated fetches each referenced registry independently; a failure
// leaves that snapshot empty, which disables its foreign key check.
func (e *Editor) loadRelated(ctx context.Context, source DataSource) map[registry.Name][]registry.Record {
	names := e.name.Related()
	out := make(map[registry.Name][]registry.Record, len(names))
	if len(names) == 0 {
		return out
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, name := range names {
		g.Go(func() error {
			var recs []registry.Record
			if source == SourceRemote {
				var err error
				recs, _, err = e.readRemote(ctx, name.Path(e.dataDir))
				if err != nil {
					e.logger.Warn("related registry unavailable, skipping its checks", "registry", e.name, "related", name, "error", err)
					return nil
				}
			} else {
				recs = e.readBundled(name)
			}
			mu.Lock()
			out[name] = recs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Close abandons in-flight loads: their results are discarded. A save that
// already started runs to completion and stays observable via LastSave.
func (e *Editor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.generation++
}

// Status reports the session state.
func (e *Editor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Registry:      e.name,
		Schema:        e.schemaState,
		Data:          e.dataState,
		Save:          e.saveState,
		SchemaVersion: e.version,
		Revision:      e.cache.Revision(),
		Source:        e.source,
		Records:       len(e.cache.Records()),
	}
	st.ReadOnly = e.readOnlyLocked()
	st.CanEdit = e.readyLocked() == nil && !st.ReadOnly
	if e.schemaErr != nil {
		st.SchemaError = e.schemaErr.Error()
	}
	if e.dataErr != nil {
		st.DataError = e.dataErr.Error()
	}
	for _, name := range e.name.Related() {
		if len(e.cache.Related(name)) > 0 {
			st.Related = append(st.Related, string(name))
		}
	}
	return st
}

func (e *Editor) readOnlyLocked() bool {
	return e.token() == "" || e.source != SourceRemote
}

func (e *Editor) readyLocked() error {
	if e.closed {
		return fmt.Errorf("%w: session closed", registry.ErrNotReady)
	}
	switch e.schemaState {
	case SchemaReady:
	case SchemaFailed:
		return &registry.SchemaUnavailableError{Registry: e.name, Err: e.schemaErr}
	default:
		return fmt.Errorf("%w: schema %s", registry.ErrNotReady, e.schemaState)
	}
	if e.dataState != DataReady && e.dataState != DataFailed {
		return fmt.Errorf("%w: data %s", registry.ErrNotReady, e.dataState)
	}
	return nil
}

// Records returns the working copy.
func (e *Editor) Records() []registry.Record { return e.cache.Records() }

// Find returns the record with identifier id.
func (e *Editor) Find(id string) (registry.Record, bool) { return e.cache.Find(id) }

// Fields returns the schema's declared fields, or nil before the schema loaded.
func (e *Editor) Fields() []schema.Field {
	e.mu.Lock()
	v := e.validator
	e.mu.Unlock()
	if v == nil {
		return nil
	}
	return v.Fields()
}

// LastSave returns the most recent finished submission.
func (e *Editor) LastSave() (SaveOutcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return SaveOutcome{}, false
	}
	return *e.last, true
}
