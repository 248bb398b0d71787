// Package core defines the synchronized-write contract implemented by every
// remote store driver.
package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// Driver identifies a concrete store implementation.
type Driver string

const (
	// DriverGitHub stores registry files in a GitHub repository.
	DriverGitHub Driver = "github"
	// DriverFilesystem stores registry files under a local directory (dev).
	DriverFilesystem Driver = "fs"
	// DriverMemory keeps registry files in process (tests).
	DriverMemory Driver = "memory"
	// DriverS3 stores registry files in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverSQLite stores registry files in a SQLite database.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres stores registry files in a PostgreSQL database.
	DriverPostgres Driver = "postgres"
)

// File is the content of a stored file at a revision.
type File struct {
	Path     string `json:"path"`
	Content  []byte `json:"-"`
	Revision string `json:"revision"`
}

// WriteRequest replaces Path with Content when the stored revision still
// equals Revision. An empty Revision creates the file and fails when it
// already exists.
type WriteRequest struct {
	Path     string
	Content  []byte
	Message  string
	Revision string
}

// WriteResult carries the new revision. Content is the canonical stored bytes
// when the driver can return them, nil otherwise.
type WriteResult struct {
	Revision string
	Content  []byte
}

// Proposal describes a change submitted for review instead of a direct write.
type Proposal struct {
	Path        string
	Content     []byte
	Message     string
	Title       string
	Description string
}

// PullRequest identifies an opened review request.
type PullRequest struct {
	ID     string `json:"id"`
	Number int    `json:"number,omitempty"`
	Branch string `json:"branch"`
	URL    string `json:"url,omitempty"`
}

// Store reads and writes registry files under an optimistic concurrency
// contract.
type Store interface {
	ReadFile(ctx context.Context, path string) (File, error)
	WriteFile(ctx context.Context, req WriteRequest) (WriteResult, error)
	ProposeChange(ctx context.Context, p Proposal) (PullRequest, error)
	Driver() Driver
}

// TokenSource yields the current session token; empty means read-only.
type TokenSource interface {
	CurrentToken() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) CurrentToken() string {
	if f == nil {
		return ""
	}
	return f()
}

var (
	ErrNotFound          = registry.ErrNotFound
	ErrRevisionConflict  = registry.ErrRevisionConflict
	ErrRemoteUnavailable = registry.ErrRemoteUnavailable
	ErrUnauthenticated   = registry.ErrUnauthenticated
	// ErrUnsupported is returned when a driver lacks an optional capability.
	ErrUnsupported = errors.New("gateway: unsupported operation")
)

// Unavailable wraps err as a remote failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrRemoteUnavailable, err)
}

var nonWord = regexp.MustCompile(`\W`)

// BranchName returns the review branch for path created at now.
func BranchName(path string, now time.Time) string {
	return fmt.Sprintf("update-%s-%d", nonWord.ReplaceAllString(path, "-"), now.UnixMilli())
}

// CleanPath validates a store-relative file path.
func CleanPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("invalid absolute path %q", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid path traversal %q", p)
		}
	}
	return p, nil
}
