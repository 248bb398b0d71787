// Package memory implements an in-memory gateway Store for tests.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OpenCoralTools/oct-registry/internal/gateway/core"
)

type fileEntry struct {
	data       []byte
	generation int64
	revision   string
}

// Commit records one successful write.
type Commit struct {
	Path     string
	Message  string
	Revision string
	At       time.Time
}

// Store implements core.Store backed by process memory.
type Store struct {
	mu        sync.RWMutex
	files     map[string]fileEntry
	commits   []Commit
	proposals map[string]core.Proposal
	now       func() time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		files:     make(map[string]fileEntry),
		proposals: make(map[string]core.Proposal),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Driver returns the store driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Seed stores content at path without going through the revision check.
func (s *Store) Seed(path string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.files[path]
	entry := newEntry(content, prev.generation+1)
	s.files[path] = entry
	return entry.revision
}

// ReadFile returns the stored content and revision.
func (s *Store) ReadFile(ctx context.Context, path string) (core.File, error) {
	if err := ctx.Err(); err != nil {
		return core.File{}, err
	}
	s.mu.RLock()
	entry, ok := s.files[path]
	s.mu.RUnlock()
	if !ok {
		return core.File{}, fmt.Errorf("%s: %w", path, core.ErrNotFound)
	}
	return core.File{Path: path, Content: cloneBytes(entry.data), Revision: entry.revision}, nil
}

// WriteFile replaces the file when req.Revision matches the stored revision.
func (s *Store) WriteFile(ctx context.Context, req core.WriteRequest) (core.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return core.WriteResult{}, err
	}
	if _, err := core.CleanPath(req.Path); err != nil {
		return core.WriteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.files[req.Path]
	switch {
	case req.Revision == "" && exists:
		return core.WriteResult{}, fmt.Errorf("%s already exists: %w", req.Path, core.ErrRevisionConflict)
	case req.Revision != "" && !exists:
		return core.WriteResult{}, fmt.Errorf("%s: %w", req.Path, core.ErrRevisionConflict)
	case exists && prev.revision != req.Revision:
		return core.WriteResult{}, fmt.Errorf("%s at %s: %w", req.Path, prev.revision, core.ErrRevisionConflict)
	}
	entry := newEntry(req.Content, prev.generation+1)
	s.files[req.Path] = entry
	s.commits = append(s.commits, Commit{Path: req.Path, Message: req.Message, Revision: entry.revision, At: s.now()})
	return core.WriteResult{Revision: entry.revision, Content: cloneBytes(entry.data)}, nil
}

// ProposeChange keeps the proposal for review without touching the file.
func (s *Store) ProposeChange(ctx context.Context, p core.Proposal) (core.PullRequest, error) {
	if err := ctx.Err(); err != nil {
		return core.PullRequest{}, err
	}
	if _, err := core.CleanPath(p.Path); err != nil {
		return core.PullRequest{}, err
	}
	id := uuid.NewString()
	p.Content = cloneBytes(p.Content)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[id] = p
	return core.PullRequest{ID: id, Number: len(s.proposals), Branch: core.BranchName(p.Path, s.now())}, nil
}

// Commits returns the write log in order.
func (s *Store) Commits() []Commit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Commit, len(s.commits))
	copy(out, s.commits)
	return out
}

// Proposals returns pending proposals sorted by id.
func (s *Store) Proposals() []core.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.proposals))
	for id := range s.proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]core.Proposal, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.proposals[id])
	}
	return out
}

func newEntry(content []byte, generation int64) fileEntry {
	sum := sha256.Sum256(content)
	return fileEntry{
		data:       cloneBytes(content),
		generation: generation,
		revision:   fmt.Sprintf("%d-%s", generation, hex.EncodeToString(sum[:8])),
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
