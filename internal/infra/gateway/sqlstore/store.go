// Package sqlstore implements a gateway Store on a SQL database. SQLite
// (modernc.org/sqlite) and PostgreSQL (pgx stdlib) share one implementation;
// only DDL and placeholders differ.
package sqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/OpenCoralTools/oct-registry/internal/gateway/core"
)

// Dialect selects DDL and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	defaultSQLitePath  = "octregistry.db"
	defaultPostgresDSN = "postgres://localhost/octregistry?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists registry files, a commit log and proposals in three tables.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite-backed store.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	return open(ctx, DialectSQLite, "sqlite", path)
}

// OpenPostgres opens a PostgreSQL-backed store.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	return open(ctx, DialectPostgres, "pgx", dsn)
}

func open(ctx context.Context, dialect Dialect, driver, dsn string) (*Store, error) {
	openMu.Lock()
	db, err := sqlOpen(driver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := &Store{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Driver implements core.Store.
func (s *Store) Driver() core.Driver {
	if s.dialect == DialectPostgres {
		return core.DriverPostgres
	}
	return core.DriverSQLite
}

func (s *Store) migrate(ctx context.Context) error {
	blob, serial := "BLOB", "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		blob, serial = "BYTEA", "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS registry_files (
			path TEXT PRIMARY KEY,
			content ` + blob + ` NOT NULL,
			generation BIGINT NOT NULL,
			sha256 TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS registry_commits (
			id ` + serial + `,
			path TEXT NOT NULL,
			revision TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS registry_proposals (
			id TEXT PRIMARY KEY,
			branch TEXT NOT NULL,
			path TEXT NOT NULL,
			content ` + blob + ` NOT NULL,
			message TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect, err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ReadFile implements core.Store.
func (s *Store) ReadFile(ctx context.Context, path string) (core.File, error) {
	if _, err := core.CleanPath(path); err != nil {
		return core.File{}, err
	}
	var (
		content    []byte
		generation int64
		sum        string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT content, generation, sha256 FROM registry_files WHERE path = ?`), path).
		Scan(&content, &generation, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return core.File{}, fmt.Errorf("%s: %w", path, core.ErrNotFound)
	}
	if err != nil {
		return core.File{}, core.Unavailable("read "+path, err)
	}
	return core.File{Path: path, Content: content, Revision: revisionFor(generation, sum)}, nil
}

// WriteFile implements core.Store. The update is conditioned on the
// generation and checksum encoded in req.Revision.
func (s *Store) WriteFile(ctx context.Context, req core.WriteRequest) (res core.WriteResult, retErr error) {
	if _, err := core.CleanPath(req.Path); err != nil {
		return core.WriteResult{}, err
	}
	sum := checksum(req.Content)
	now := s.now().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WriteResult{}, core.Unavailable("begin", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	var generation int64
	var result sql.Result
	if req.Revision == "" {
		generation = 1
		result, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO registry_files (path, content, generation, sha256, updated_at)
			VALUES (?, ?, ?, ?, ?) ON CONFLICT (path) DO NOTHING`), req.Path, req.Content, generation, sum, now)
	} else {
		prevGen, prevSum, ok := parseRevision(req.Revision)
		if !ok {
			return core.WriteResult{}, fmt.Errorf("%s: malformed revision %q: %w", req.Path, req.Revision, core.ErrRevisionConflict)
		}
		generation = prevGen + 1
		result, err = tx.ExecContext(ctx, s.rebind(`UPDATE registry_files SET content = ?, generation = ?, sha256 = ?, updated_at = ?
			WHERE path = ? AND generation = ? AND sha256 LIKE ?`), req.Content, generation, sum, now, req.Path, prevGen, prevSum+"%")
	}
	if err != nil {
		return core.WriteResult{}, core.Unavailable("write "+req.Path, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.WriteResult{}, core.Unavailable("write "+req.Path, err)
	}
	if affected == 0 {
		return core.WriteResult{}, fmt.Errorf("%s: %w", req.Path, core.ErrRevisionConflict)
	}
	revision := revisionFor(generation, sum)
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO registry_commits (path, revision, message, created_at) VALUES (?, ?, ?, ?)`),
		req.Path, revision, req.Message, now); err != nil {
		return core.WriteResult{}, core.Unavailable("log commit", err)
	}
	if err := tx.Commit(); err != nil {
		return core.WriteResult{}, core.Unavailable("commit", err)
	}
	return core.WriteResult{Revision: revision, Content: append([]byte(nil), req.Content...)}, nil
}

// ProposeChange stores the proposal in registry_proposals.
func (s *Store) ProposeChange(ctx context.Context, p core.Proposal) (core.PullRequest, error) {
	if _, err := core.CleanPath(p.Path); err != nil {
		return core.PullRequest{}, err
	}
	now := s.now()
	pr := core.PullRequest{ID: uuid.NewString(), Branch: core.BranchName(p.Path, now)}
	if _, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO registry_proposals
		(id, branch, path, content, message, title, description, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		pr.ID, pr.Branch, p.Path, p.Content, p.Message, p.Title, p.Description, now.Format(time.RFC3339Nano)); err != nil {
		return core.PullRequest{}, core.Unavailable("propose "+p.Path, err)
	}
	return pr, nil
}

// Commit is one row of the write log.
type Commit struct {
	Path     string `json:"path"`
	Revision string `json:"revision"`
	Message  string `json:"message"`
}

// Commits returns the write log for path, oldest first.
func (s *Store) Commits(ctx context.Context, path string) ([]Commit, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT path, revision, message FROM registry_commits WHERE path = ? ORDER BY id`), path)
	if err != nil {
		return nil, fmt.Errorf("select commits: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Commit
	for rows.Next() {
		var c Commit
		if err := rows.Scan(&c.Path, &c.Revision, &c.Message); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func revisionFor(generation int64, sum string) string {
	if len(sum) > 16 {
		sum = sum[:16]
	}
	return fmt.Sprintf("%d-%s", generation, sum)
}

func parseRevision(rev string) (int64, string, bool) {
	genText, sum, ok := strings.Cut(rev, "-")
	if !ok || sum == "" {
		return 0, "", false
	}
	gen, err := strconv.ParseInt(genText, 10, 64)
	if err != nil || gen < 1 {
		return 0, "", false
	}
	for _, r := range sum {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return 0, "", false
		}
	}
	return gen, sum, true
}
