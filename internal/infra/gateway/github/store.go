// Package github implements a gateway Store on a GitHub repository through
// the contents, git refs and pulls REST APIs. Revisions are blob SHAs.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/OpenCoralTools/oct-registry/internal/gateway/core"
)

// Config selects the repository and API endpoint.
type Config struct {
	Owner      string
	Repo       string
	Branch     string // empty means the repository default branch
	APIURL     string // empty means api.github.com
	HTTPClient *http.Client
}

// Store implements core.Store. The session token is read on every call so a
// login or logout takes effect immediately.
type Store struct {
	cfg    Config
	tokens core.TokenSource
	base   *url.URL
	now    func() time.Time
}

// New constructs a GitHub store.
func New(cfg Config, tokens core.TokenSource) (*Store, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo required")
	}
	s := &Store{cfg: cfg, tokens: tokens, now: time.Now}
	if cfg.APIURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.APIURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		s.base = base
	}
	return s, nil
}

func (s *Store) Driver() core.Driver { return core.DriverGitHub }

func (s *Store) token() string {
	if s.tokens == nil {
		return ""
	}
	return s.tokens.CurrentToken()
}

func (s *Store) client(token string) *gh.Client {
	c := gh.NewClient(s.cfg.HTTPClient)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	if s.base != nil {
		c.BaseURL = s.base
	}
	return c
}

func (s *Store) authedClient() (*gh.Client, error) {
	token := s.token()
	if token == "" {
		return nil, core.ErrUnauthenticated
	}
	return s.client(token), nil
}

// ReadFile fetches the file on the configured branch.
func (s *Store) ReadFile(ctx context.Context, path string) (core.File, error) {
	if _, err := core.CleanPath(path); err != nil {
		return core.File{}, err
	}
	return s.readAt(ctx, s.client(s.token()), path, s.cfg.Branch)
}

func (s *Store) readAt(ctx context.Context, c *gh.Client, path, ref string) (core.File, error) {
	var opts *gh.RepositoryContentGetOptions
	if ref != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: ref}
	}
	file, _, _, err := c.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, path, opts)
	if err != nil {
		return core.File{}, mapError("get "+path, err, false)
	}
	if file == nil {
		return core.File{}, fmt.Errorf("get %s: %w: path is a directory", path, core.ErrRemoteUnavailable)
	}
	content, err := file.GetContent()
	if err != nil {
		return core.File{}, core.Unavailable("decode "+path, err)
	}
	return core.File{Path: path, Content: []byte(content), Revision: file.GetSHA()}, nil
}

// WriteFile commits the content with the blob SHA as precondition.
func (s *Store) WriteFile(ctx context.Context, req core.WriteRequest) (core.WriteResult, error) {
	if _, err := core.CleanPath(req.Path); err != nil {
		return core.WriteResult{}, err
	}
	c, err := s.authedClient()
	if err != nil {
		return core.WriteResult{}, err
	}
	return s.writeAt(ctx, c, req, s.cfg.Branch)
}

func (s *Store) writeAt(ctx context.Context, c *gh.Client, req core.WriteRequest, branch string) (core.WriteResult, error) {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(req.Message),
		Content: req.Content,
	}
	if branch != "" {
		opts.Branch = gh.String(branch)
	}
	var (
		res *gh.RepositoryContentResponse
		err error
	)
	if req.Revision == "" {
		res, _, err = c.Repositories.CreateFile(ctx, s.cfg.Owner, s.cfg.Repo, req.Path, opts)
	} else {
		opts.SHA = gh.String(req.Revision)
		res, _, err = c.Repositories.UpdateFile(ctx, s.cfg.Owner, s.cfg.Repo, req.Path, opts)
	}
	if err != nil {
		return core.WriteResult{}, mapError("put "+req.Path, err, req.Revision == "")
	}
	if res == nil || res.Content == nil {
		return core.WriteResult{}, fmt.Errorf("put %s: %w: empty response", req.Path, core.ErrRemoteUnavailable)
	}
	return core.WriteResult{Revision: res.Content.GetSHA()}, nil
}

// ProposeChange branches from the base tip, commits the content on the new
// branch and opens a pull request against the base.
func (s *Store) ProposeChange(ctx context.Context, p core.Proposal) (core.PullRequest, error) {
	if _, err := core.CleanPath(p.Path); err != nil {
		return core.PullRequest{}, err
	}
	c, err := s.authedClient()
	if err != nil {
		return core.PullRequest{}, err
	}
	base := s.cfg.Branch
	if base == "" {
		repo, _, err := c.Repositories.Get(ctx, s.cfg.Owner, s.cfg.Repo)
		if err != nil {
			return core.PullRequest{}, mapError("get repository", err, false)
		}
		base = repo.GetDefaultBranch()
	}
	ref, _, err := c.Git.GetRef(ctx, s.cfg.Owner, s.cfg.Repo, "heads/"+base)
	if err != nil {
		return core.PullRequest{}, mapError("get ref "+base, err, false)
	}
	branch := core.BranchName(p.Path, s.now())
	if _, _, err := c.Git.CreateRef(ctx, s.cfg.Owner, s.cfg.Repo, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: ref.GetObject().SHA},
	}); err != nil {
		return core.PullRequest{}, mapError("create ref "+branch, err, false)
	}
	// The branch tip equals the base tip, so its own blob SHA is the precondition.
	var revision string
	current, err := s.readAt(ctx, c, p.Path, branch)
	switch {
	case err == nil:
		revision = current.Revision
	case !errors.Is(err, core.ErrNotFound):
		return core.PullRequest{}, err
	}
	if _, err := s.writeAt(ctx, c, core.WriteRequest{Path: p.Path, Content: p.Content, Message: p.Message, Revision: revision}, branch); err != nil {
		return core.PullRequest{}, err
	}
	pr, _, err := c.PullRequests.Create(ctx, s.cfg.Owner, s.cfg.Repo, &gh.NewPullRequest{
		Title: gh.String(p.Title),
		Head:  gh.String(branch),
		Base:  gh.String(base),
		Body:  gh.String(p.Description),
	})
	if err != nil {
		return core.PullRequest{}, mapError("create pull request", err, false)
	}
	return core.PullRequest{
		ID:     fmt.Sprintf("%d", pr.GetID()),
		Number: pr.GetNumber(),
		Branch: branch,
		URL:    pr.GetHTMLURL(),
	}, nil
}

// mapError translates API failures. A 422 on a create means the file already
// exists, which is a stale "absent" revision.
func mapError(op string, err error, creating bool) error {
	var apiErr *gh.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		switch code := apiErr.Response.StatusCode; {
		case code == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, core.ErrNotFound)
		case code == http.StatusConflict, code == http.StatusPreconditionFailed:
			return fmt.Errorf("%s: %w", op, core.ErrRevisionConflict)
		case code == http.StatusUnprocessableEntity && creating:
			return fmt.Errorf("%s: %w", op, core.ErrRevisionConflict)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.Unavailable(op, err)
}
