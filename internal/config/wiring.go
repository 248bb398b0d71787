package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/OpenCoralTools/oct-registry/internal/bundled"
	"github.com/OpenCoralTools/oct-registry/internal/gateway"
	"github.com/OpenCoralTools/oct-registry/internal/schema"
)

// GatewayOptions maps the gateway section onto a driver configuration.
func (c *Config) GatewayOptions() gateway.Config {
	g := c.Gateway
	return gateway.Config{
		Driver:       gateway.Driver(g.Driver),
		GitHubOwner:  g.GitHub.Owner,
		GitHubRepo:   g.GitHub.Repo,
		GitHubBranch: g.GitHub.Branch,
		GitHubAPIURL: g.GitHub.APIURL,
		FSRoot:       g.FS.Root,
		S3Bucket:     g.S3.Bucket,
		S3Region:     g.S3.Region,
		S3Endpoint:   g.S3.Endpoint,
		S3Prefix:     g.S3.Prefix,
		S3PathStyle:  g.S3.PathStyle,
		SQLitePath:   g.SQLite.Path,
		PostgresDSN:  g.Postgres.DSN,
	}
}

// OpenStore opens the configured store.
func (c *Config) OpenStore(ctx context.Context, tokens gateway.TokenSource) (gateway.Store, error) {
	return gateway.Open(ctx, c.GatewayOptions(), tokens)
}

// SchemaSource returns the configured schema source.
func (c *Config) SchemaSource() (schema.Source, error) {
	switch c.Schema.Source {
	case SchemaEmbedded, "":
		return schema.NewFSSource(bundled.FS(), bundled.SchemaDir), nil
	case SchemaDir:
		return schema.NewDirSource(c.Schema.Location), nil
	case SchemaHTTP:
		return schema.NewHTTPSource(c.Schema.Location, schema.WithTimeout(c.Schema.Timeout)), nil
	default:
		return nil, fmt.Errorf("unknown schema source %q", c.Schema.Source)
	}
}

// VerifyURL returns the API base used to verify tokens.
func (c *Config) VerifyURL() string {
	if c.Auth.VerifyURL != "" {
		return c.Auth.VerifyURL
	}
	return c.Gateway.GitHub.APIURL
}

// LogLevel parses the configured level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}
