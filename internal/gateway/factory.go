package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/OpenCoralTools/oct-registry/internal/infra/gateway/fs"
	ghstore "github.com/OpenCoralTools/oct-registry/internal/infra/gateway/github"
	"github.com/OpenCoralTools/oct-registry/internal/infra/gateway/memory"
	"github.com/OpenCoralTools/oct-registry/internal/infra/gateway/s3"
	"github.com/OpenCoralTools/oct-registry/internal/infra/gateway/sqlstore"
)

// Config selects and parameterizes a driver.
type Config struct {
	Driver Driver

	GitHubOwner  string
	GitHubRepo   string
	GitHubBranch string
	GitHubAPIURL string

	FSRoot string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	S3PathStyle bool

	SQLitePath  string
	PostgresDSN string

	HTTPClient *http.Client
}

// Open constructs the configured store. Every driver except github is
// wrapped so writes and proposals require a session token. An empty driver
// selects the filesystem.
func Open(ctx context.Context, cfg Config, tokens TokenSource) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverGitHub:
		return ghstore.New(ghstore.Config{
			Owner:      cfg.GitHubOwner,
			Repo:       cfg.GitHubRepo,
			Branch:     cfg.GitHubBranch,
			APIURL:     cfg.GitHubAPIURL,
			HTTPClient: cfg.HTTPClient,
		}, tokens)
	case DriverFilesystem:
		s, err := fs.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return RequireToken(s, tokens), nil
	case DriverMemory:
		return RequireToken(memory.New(), tokens), nil
	case DriverS3:
		s, err := s3.New(ctx, s3.Config{
			Bucket:     cfg.S3Bucket,
			Region:     cfg.S3Region,
			Endpoint:   cfg.S3Endpoint,
			Prefix:     cfg.S3Prefix,
			PathStyle:  cfg.S3PathStyle,
			HTTPClient: cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		return RequireToken(s, tokens), nil
	case DriverSQLite:
		s, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return RequireToken(s, tokens), nil
	case DriverPostgres:
		s, err := sqlstore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return RequireToken(s, tokens), nil
	default:
		return nil, fmt.Errorf("unknown gateway driver %s", driver)
	}
}

// NewMemory returns an in-memory store for tests and demos, seeded with files.
func NewMemory(files map[string][]byte) Store {
	s := memory.New()
	for path, content := range files {
		s.Seed(path, content)
	}
	return s
}
