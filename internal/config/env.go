package config

import (
	"fmt"
	"strconv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays OCTREG_* variables onto c. Unset variables leave the
// current value alone.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	strs := map[string]*string{
		"GATEWAY_DRIVER":  &c.Gateway.Driver,
		"DATA_DIR":        &c.Gateway.DataDir,
		"GITHUB_OWNER":    &c.Gateway.GitHub.Owner,
		"GITHUB_REPO":     &c.Gateway.GitHub.Repo,
		"GITHUB_BRANCH":   &c.Gateway.GitHub.Branch,
		"GITHUB_API_URL":  &c.Gateway.GitHub.APIURL,
		"FS_ROOT":         &c.Gateway.FS.Root,
		"S3_BUCKET":       &c.Gateway.S3.Bucket,
		"S3_REGION":       &c.Gateway.S3.Region,
		"S3_ENDPOINT":     &c.Gateway.S3.Endpoint,
		"S3_PREFIX":       &c.Gateway.S3.Prefix,
		"SQLITE_PATH":     &c.Gateway.SQLite.Path,
		"POSTGRES_DSN":    &c.Gateway.Postgres.DSN,
		"SCHEMA_SOURCE":   &c.Schema.Source,
		"SCHEMA_LOCATION": &c.Schema.Location,
		"LISTEN_ADDR":     &c.Server.ListenAddr,
		"TOKEN":           &c.Auth.Token,
		"VERIFY_URL":      &c.Auth.VerifyURL,
		"LOG_LEVEL":       &c.Log.Level,
		"LOG_FORMAT":      &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup(EnvPrefix + "S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sS3_PATH_STYLE: %w", EnvPrefix, err)
		}
		c.Gateway.S3.PathStyle = b
	}
	return nil
}
