// Package fs implements a gateway Store on a local directory.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OpenCoralTools/oct-registry/internal/gateway/core"
)

const proposalsDir = ".proposals"

// Store implements core.Store using the local filesystem. Each file has a
// metadata sidecar (filename + `.meta`) holding its revision. Conditional
// writes are serialized within the process only.
type Store struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

// New returns a filesystem-backed store rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./registrydata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory backing the store.
func (s *Store) Root() string { return s.root }

// sanitizePath ensures p doesn't escape root.
func sanitizePath(p string) (string, error) {
	if _, err := core.CleanPath(p); err != nil {
		return "", err
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if strings.HasPrefix(clean, "..") || strings.HasPrefix(clean, proposalsDir) {
		return "", fmt.Errorf("invalid path %q", p)
	}
	return clean, nil
}

func (s *Store) pathFor(p string) (dataPath, metaPath string, err error) {
	clean, err := sanitizePath(p)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(clean))
	metaPath = dataPath + ".meta"
	return
}

type metaFile struct {
	Revision   string    `json:"revision"`
	Generation int64     `json:"generation"`
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReadFile returns the file content with its revision. Files placed under the
// root without a sidecar, or changed since the sidecar was written, get a
// content-derived revision.
func (s *Store) ReadFile(ctx context.Context, p string) (core.File, error) {
	if err := ctx.Err(); err != nil {
		return core.File{}, err
	}
	dataPath, metaPath, err := s.pathFor(p)
	if err != nil {
		return core.File{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(dataPath) // #nosec G304 -- path sanitized against root
	if errors.Is(err, fs.ErrNotExist) {
		return core.File{}, fmt.Errorf("%s: %w", p, core.ErrNotFound)
	}
	if err != nil {
		return core.File{}, core.Unavailable("read "+p, err)
	}
	mf, err := metaFor(data, metaPath)
	if err != nil {
		return core.File{}, core.Unavailable("read meta "+p, err)
	}
	return core.File{Path: p, Content: data, Revision: mf.Revision}, nil
}

// WriteFile replaces the file when req.Revision equals the stored revision.
func (s *Store) WriteFile(ctx context.Context, req core.WriteRequest) (core.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return core.WriteResult{}, err
	}
	dataPath, metaPath, err := s.pathFor(req.Path)
	if err != nil {
		return core.WriteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists, err := s.currentMeta(dataPath, metaPath)
	if err != nil {
		return core.WriteResult{}, core.Unavailable("stat "+req.Path, err)
	}
	switch {
	case req.Revision == "" && exists:
		return core.WriteResult{}, fmt.Errorf("%s already exists: %w", req.Path, core.ErrRevisionConflict)
	case req.Revision != "" && !exists:
		return core.WriteResult{}, fmt.Errorf("%s: %w", req.Path, core.ErrRevisionConflict)
	case exists && current.Revision != req.Revision:
		return core.WriteResult{}, fmt.Errorf("%s at %s: %w", req.Path, current.Revision, core.ErrRevisionConflict)
	}
	if err := atomicWrite(dataPath, req.Content); err != nil {
		return core.WriteResult{}, core.Unavailable("write "+req.Path, err)
	}
	now := s.now()
	sum := checksum(req.Content)
	next := metaFile{
		Generation: current.Generation + 1,
		SHA256:     sum,
		Size:       int64(len(req.Content)),
		Message:    req.Message,
		CreatedAt:  current.CreatedAt,
		UpdatedAt:  now,
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.Revision = revisionFor(next.Generation, sum)
	if err := writeJSON(metaPath, next); err != nil {
		return core.WriteResult{}, core.Unavailable("write meta "+req.Path, err)
	}
	return core.WriteResult{Revision: next.Revision, Content: append([]byte(nil), req.Content...)}, nil
}

func (s *Store) currentMeta(dataPath, metaPath string) (metaFile, bool, error) {
	data, err := os.ReadFile(dataPath) // #nosec G304 -- path sanitized against root
	if errors.Is(err, fs.ErrNotExist) {
		return metaFile{}, false, nil
	}
	if err != nil {
		return metaFile{}, false, err
	}
	mf, err := metaFor(data, metaPath)
	return mf, err == nil, err
}

// metaFor returns the sidecar for data. A missing sidecar, or one whose
// checksum no longer matches data, yields a revision derived from the
// content so holders of the recorded revision conflict.
func metaFor(data []byte, metaPath string) (metaFile, error) {
	sum := checksum(data)
	mf, err := readMeta(metaPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return metaFile{Revision: revisionFor(0, sum), SHA256: sum}, nil
	case err != nil:
		return metaFile{}, err
	case mf.SHA256 != sum:
		mf.SHA256 = sum
		mf.Size = int64(len(data))
		mf.Revision = revisionFor(mf.Generation, sum)
	}
	return mf, nil
}

type proposalFile struct {
	ID          string    `json:"id"`
	Branch      string    `json:"branch"`
	Path        string    `json:"path"`
	Message     string    `json:"message,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProposeChange writes the content under .proposals/<id>/ with a descriptor.
func (s *Store) ProposeChange(ctx context.Context, p core.Proposal) (core.PullRequest, error) {
	if err := ctx.Err(); err != nil {
		return core.PullRequest{}, err
	}
	clean, err := sanitizePath(p.Path)
	if err != nil {
		return core.PullRequest{}, err
	}
	now := s.now()
	pf := proposalFile{
		ID:          uuid.NewString(),
		Branch:      core.BranchName(clean, now),
		Path:        clean,
		Message:     p.Message,
		Title:       p.Title,
		Description: p.Description,
		CreatedAt:   now,
	}
	dir := filepath.Join(s.root, proposalsDir, pf.ID)
	if err := atomicWrite(filepath.Join(dir, filepath.FromSlash(clean)), p.Content); err != nil {
		return core.PullRequest{}, core.Unavailable("write proposal", err)
	}
	if err := writeJSON(filepath.Join(dir, "proposal.json"), pf); err != nil {
		return core.PullRequest{}, core.Unavailable("write proposal", err)
	}
	return core.PullRequest{ID: pf.ID, Branch: pf.Branch, URL: localURL(pf.ID)}, nil
}

func localURL(id string) string {
	return (&url.URL{Scheme: "file", Host: "local.registry", Path: "/" + proposalsDir + "/" + id}).String()
}

// --- helpers ---

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func revisionFor(generation int64, sum string) string {
	return fmt.Sprintf("%d-%s", generation, sum[:16])
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, b)
}

func readMeta(path string) (metaFile, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- path sanitized against root
	if err != nil {
		return metaFile{}, err
	}
	var mf metaFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return metaFile{}, err
	}
	return mf, nil
}
