// Package bundled embeds the registry snapshot and schemas shipped with the
// binary. They back read-only mode and the embedded schema source.
package bundled

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

//go:embed data/*.json schemas/*.json
var files embed.FS

// SchemaDir is the directory of schema documents within FS.
const SchemaDir = "schemas"

// FS returns the embedded tree: data/<name>.json and schemas/<name>.json.
func FS() fs.FS { return files }

// Data returns the bundled snapshot of a registry file.
func Data(name registry.Name) ([]byte, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %q", registry.ErrUnknownRegistry, name)
	}
	return files.ReadFile(name.Path(registry.DefaultDataDir))
}

// Records decodes the bundled snapshot of a registry.
func Records(name registry.Name) ([]registry.Record, error) {
	data, err := Data(name)
	if err != nil {
		return nil, err
	}
	return registry.DecodeFile(data)
}

// Files returns every bundled registry file keyed by its store path.
func Files() (map[string][]byte, error) {
	out := make(map[string][]byte, len(registry.Names()))
	for _, name := range registry.Names() {
		data, err := Data(name)
		if err != nil {
			return nil, err
		}
		out[name.Path(registry.DefaultDataDir)] = data
	}
	return out, nil
}
