package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/OpenCoralTools/oct-registry/internal/gateway/core"
)

// fakeRepo serves the subset of the GitHub REST API the store uses.
type fakeRepo struct {
	mu       sync.Mutex
	files    map[string]map[string]fakeBlob // branch -> path -> blob
	refs     map[string]string
	pulls    []map[string]any
	auth     []string
	nextSHA  int
	messages []string
}

type fakeBlob struct {
	content []byte
	sha     string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		files: map[string]map[string]fakeBlob{"main": {}},
		refs:  map[string]string{"main": "commit-main"},
	}
}

func (f *fakeRepo) seed(branch, path, content string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSHA++
	sha := fmt.Sprintf("sha%d", f.nextSHA)
	f.files[branch][path] = fakeBlob{content: []byte(content), sha: sha}
	return sha
}

func (f *fakeRepo) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"default_branch": "main"})
	})
	mux.HandleFunc("GET /repos/o/r/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		branch := r.URL.Query().Get("ref")
		if branch == "" {
			branch = "main"
		}
		blob, ok := f.files[branch][r.PathValue("path")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"type": "file", "encoding": "base64", "path": r.PathValue("path"),
			"sha": blob.sha, "content": base64.StdEncoding.EncodeToString(blob.content),
		})
	})
	mux.HandleFunc("PUT /repos/o/r/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			SHA     string `json:"sha"`
			Branch  string `json:"branch"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		branch := body.Branch
		if branch == "" {
			branch = "main"
		}
		path := r.PathValue("path")
		current, exists := f.files[branch][path]
		switch {
		case body.SHA == "" && exists:
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "sha wasn't supplied"})
			return
		case body.SHA != "" && (!exists || current.sha != body.SHA):
			writeJSON(w, http.StatusConflict, map[string]any{"message": "does not match"})
			return
		}
		content, _ := base64.StdEncoding.DecodeString(body.Content)
		f.nextSHA++
		sha := fmt.Sprintf("sha%d", f.nextSHA)
		f.files[branch][path] = fakeBlob{content: content, sha: sha}
		f.messages = append(f.messages, body.Message)
		writeJSON(w, http.StatusOK, map[string]any{"content": map[string]any{"sha": sha, "path": path}})
	})
	mux.HandleFunc("GET /repos/o/r/git/ref/heads/{branch}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		sha, ok := f.refs[r.PathValue("branch")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/" + r.PathValue("branch"), "object": map[string]any{"sha": sha, "type": "commit"}})
	})
	mux.HandleFunc("POST /repos/o/r/git/refs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		branch := strings.TrimPrefix(body.Ref, "refs/heads/")
		f.mu.Lock()
		defer f.mu.Unlock()
		f.refs[branch] = body.SHA
		copied := map[string]fakeBlob{}
		for k, v := range f.files["main"] {
			copied[k] = v
		}
		f.files[branch] = copied
		writeJSON(w, http.StatusCreated, map[string]any{"ref": body.Ref, "object": map[string]any{"sha": body.SHA}})
	})
	mux.HandleFunc("POST /repos/o/r/pulls", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.pulls = append(f.pulls, body)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 99, "number": 7, "html_url": "https://github.example/o/r/pull/7"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestStore(t *testing.T, token string) (*Store, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	srv := httptest.NewServer(repo.handler())
	t.Cleanup(srv.Close)
	s, err := New(Config{Owner: "o", Repo: "r", APIURL: srv.URL, HTTPClient: srv.Client()}, core.TokenFunc(func() string { return token }))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return s, repo
}

func TestGitHubReadFile(t *testing.T) {
	s, repo := newTestStore(t, "tok")
	sha := repo.seed("main", "data/species.json", "[]")
	f, err := s.ReadFile(context.Background(), "data/species.json")
	if err != nil || f.Revision != sha || string(f.Content) != "[]" {
		t.Fatalf("read: %+v %v", f, err)
	}
	if repo.auth[0] != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", repo.auth[0])
	}
	if _, err := s.ReadFile(context.Background(), "data/genets.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGitHubWriteFile(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t, "tok")
	sha := repo.seed("main", "data/species.json", "[]")
	res, err := s.WriteFile(ctx, core.WriteRequest{Path: "data/species.json", Content: []byte("[1]"), Message: "Update species registry: Add ACER", Revision: sha})
	if err != nil || res.Revision == sha || res.Revision == "" {
		t.Fatalf("write: %+v %v", res, err)
	}
	if _, err := s.WriteFile(ctx, core.WriteRequest{Path: "data/species.json", Content: []byte("[2]"), Revision: sha}); !errors.Is(err, core.ErrRevisionConflict) {
		t.Fatalf("stale sha should conflict, got %v", err)
	}
	if _, err := s.WriteFile(ctx, core.WriteRequest{Path: "data/species.json", Content: []byte("[2]")}); !errors.Is(err, core.ErrRevisionConflict) {
		t.Fatalf("create over existing should conflict, got %v", err)
	}
	if _, err := s.WriteFile(ctx, core.WriteRequest{Path: "data/genets.json", Content: []byte("[]")}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if repo.messages[0] != "Update species registry: Add ACER" {
		t.Fatalf("unexpected commit message %q", repo.messages[0])
	}
}

func TestGitHubWriteRequiresToken(t *testing.T) {
	s, _ := newTestStore(t, "")
	if _, err := s.WriteFile(context.Background(), core.WriteRequest{Path: "data/species.json", Content: []byte("[]")}); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := s.ProposeChange(context.Background(), core.Proposal{Path: "data/species.json"}); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestGitHubProposeChange(t *testing.T) {
	s, repo := newTestStore(t, "tok")
	baseSHA := repo.seed("main", "data/genets.json", "[]")
	pr, err := s.ProposeChange(context.Background(), core.Proposal{
		Path: "data/genets.json", Content: []byte("[\"g1\"]"), Message: "Update genets registry: Add g1",
		Title: "Add g1", Description: "proposed",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if pr.Number != 7 || pr.ID != "99" || !strings.HasPrefix(pr.Branch, "update-data-genets-json-") {
		t.Fatalf("unexpected pr %+v", pr)
	}
	if got := repo.files["main"]["data/genets.json"]; got.sha != baseSHA {
		t.Fatalf("base branch must be untouched")
	}
	if got := repo.files[pr.Branch]["data/genets.json"]; string(got.content) != "[\"g1\"]" {
		t.Fatalf("branch content %q", got.content)
	}
	if repo.pulls[0]["base"] != "main" || repo.pulls[0]["head"] != pr.Branch {
		t.Fatalf("unexpected pull request body %v", repo.pulls[0])
	}
}

func TestNewRequiresRepo(t *testing.T) {
	if _, err := New(Config{Owner: "o"}, nil); err == nil {
		t.Fatalf("expected error")
	}
}
