package schema

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// DefaultRequestTimeout bounds a single schema fetch over HTTP.
const DefaultRequestTimeout = 15 * time.Second

// Source fetches the raw schema document for a registry.
type Source interface {
	Fetch(ctx context.Context, name registry.Name) ([]byte, error)
}

// HTTPSource fetches `<base>/schemas/<name>.json`.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTimeout sets the request timeout. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		if timeout > 0 {
			s.client.Timeout = timeout
		}
	}
}

// NewHTTPSource returns a source rooted at baseURL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, name registry.Name) ([]byte, error) {
	url := fmt.Sprintf("%s/schemas/%s.json", s.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// FSSource reads `<dir>/<name>.json` from an fs.FS such as an embed.FS.
type FSSource struct {
	fsys fs.FS
	dir  string
}

// NewFSSource returns a source reading from dir within fsys.
func NewFSSource(fsys fs.FS, dir string) *FSSource {
	return &FSSource{fsys: fsys, dir: dir}
}

// Fetch implements Source.
func (s *FSSource) Fetch(_ context.Context, name registry.Name) ([]byte, error) {
	return fs.ReadFile(s.fsys, path.Join(s.dir, string(name)+".json"))
}

// NewDirSource reads schema documents from a local directory.
func NewDirSource(root string) *FSSource {
	return &FSSource{fsys: os.DirFS(filepath.Clean(root)), dir: "."}
}
