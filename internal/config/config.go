// Package config provides configuration loading for the registry service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OpenCoralTools/oct-registry/internal/gateway"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OCTREG_"

// Schema source kinds.
const (
	SchemaEmbedded = "embedded"
	SchemaDir      = "dir"
	SchemaHTTP     = "http"
)

// Config represents the complete service configuration
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Schema  SchemaConfig  `yaml:"schema"`
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
}

// GatewayConfig selects the store holding the registry files
type GatewayConfig struct {
	// Driver is one of github, fs, memory, s3, sqlite, postgres
	Driver string `yaml:"driver"`
	// DataDir is the path prefix of registry files within the store
	DataDir string `yaml:"data_dir"`

	GitHub   GitHubConfig   `yaml:"github"`
	FS       FSConfig       `yaml:"fs"`
	S3       S3Config       `yaml:"s3"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// GitHubConfig configures the github driver
type GitHubConfig struct {
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
	// APIURL overrides https://api.github.com/ for GitHub Enterprise
	APIURL string `yaml:"api_url"`
}

// FSConfig configures the filesystem driver
type FSConfig struct {
	Root string `yaml:"root"`
}

// S3Config configures the s3 driver
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"path_style"`
}

// SQLiteConfig configures the sqlite driver
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig configures the postgres driver
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// SchemaConfig selects where schema documents come from
type SchemaConfig struct {
	// Source is embedded, dir or http
	Source string `yaml:"source"`
	// Location is the directory (dir) or base URL (http)
	Location string `yaml:"location"`
	// Timeout bounds one HTTP fetch
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures the session
type AuthConfig struct {
	// Token is only read from the environment.
	Token string `yaml:"-"`
	// VerifyURL overrides the API used to verify tokens; defaults to the github API URL
	VerifyURL string `yaml:"verify_url"`
}

// LogConfig configures slog output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Driver:  string(gateway.DriverFilesystem),
			DataDir: registry.DefaultDataDir,
			FS:      FSConfig{Root: "./registrydata"},
			SQLite:  SQLiteConfig{Path: "./registry.db"},
		},
		Schema: SchemaConfig{
			Source:  SchemaEmbedded,
			Timeout: 15 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr:        ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch gateway.Driver(c.Gateway.Driver) {
	case gateway.DriverGitHub:
		if c.Gateway.GitHub.Owner == "" || c.Gateway.GitHub.Repo == "" {
			return fmt.Errorf("gateway.github.owner and gateway.github.repo are required")
		}
	case gateway.DriverFilesystem:
		if c.Gateway.FS.Root == "" {
			return fmt.Errorf("gateway.fs.root is required")
		}
	case gateway.DriverMemory:
	case gateway.DriverS3:
		if c.Gateway.S3.Bucket == "" {
			return fmt.Errorf("gateway.s3.bucket is required")
		}
	case gateway.DriverSQLite:
		if c.Gateway.SQLite.Path == "" {
			return fmt.Errorf("gateway.sqlite.path is required")
		}
	case gateway.DriverPostgres:
		if c.Gateway.Postgres.DSN == "" {
			return fmt.Errorf("gateway.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown gateway.driver %q", c.Gateway.Driver)
	}
	switch c.Schema.Source {
	case SchemaEmbedded:
	case SchemaDir, SchemaHTTP:
		if c.Schema.Location == "" {
			return fmt.Errorf("schema.location is required for source %q", c.Schema.Source)
		}
	default:
		return fmt.Errorf("unknown schema.source %q", c.Schema.Source)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load builds the effective configuration: defaults, then the optional file
// at path, then OCTREG_* environment overrides.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Gateway
	setString(&c.Gateway.Driver, other.Gateway.Driver)
	setString(&c.Gateway.DataDir, other.Gateway.DataDir)
	setString(&c.Gateway.GitHub.Owner, other.Gateway.GitHub.Owner)
	setString(&c.Gateway.GitHub.Repo, other.Gateway.GitHub.Repo)
	setString(&c.Gateway.GitHub.Branch, other.Gateway.GitHub.Branch)
	setString(&c.Gateway.GitHub.APIURL, other.Gateway.GitHub.APIURL)
	setString(&c.Gateway.FS.Root, other.Gateway.FS.Root)
	setString(&c.Gateway.S3.Bucket, other.Gateway.S3.Bucket)
	setString(&c.Gateway.S3.Region, other.Gateway.S3.Region)
	setString(&c.Gateway.S3.Endpoint, other.Gateway.S3.Endpoint)
	setString(&c.Gateway.S3.Prefix, other.Gateway.S3.Prefix)
	if other.Gateway.S3.PathStyle {
		c.Gateway.S3.PathStyle = true
	}
	setString(&c.Gateway.SQLite.Path, other.Gateway.SQLite.Path)
	setString(&c.Gateway.Postgres.DSN, other.Gateway.Postgres.DSN)

	// Schema
	setString(&c.Schema.Source, other.Schema.Source)
	setString(&c.Schema.Location, other.Schema.Location)
	if other.Schema.Timeout != 0 {
		c.Schema.Timeout = other.Schema.Timeout
	}

	// Server
	setString(&c.Server.ListenAddr, other.Server.ListenAddr)
	if other.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = other.Server.ReadHeaderTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// Auth
	setString(&c.Auth.Token, other.Auth.Token)
	setString(&c.Auth.VerifyURL, other.Auth.VerifyURL)

	// Log
	setString(&c.Log.Level, other.Log.Level)
	setString(&c.Log.Format, other.Log.Format)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
