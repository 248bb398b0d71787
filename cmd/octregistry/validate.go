package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenCoralTools/oct-registry/internal/bundled"
	"github.com/OpenCoralTools/oct-registry/internal/cache"
	"github.com/OpenCoralTools/oct-registry/internal/schema"
	"github.com/OpenCoralTools/oct-registry/internal/validation"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// errInvalid signals findings were printed; the command exits non-zero.
var errInvalid = errors.New("registry file has problems")

func validateCmd() *cobra.Command {
	var (
		name      string
		schemaDir string
	)
	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check registry files against their schema, identifiers and references",
		Long: `Validate checks each registry file against its schema, rejects duplicate
identifiers and verifies foreign keys using sibling registry files in the
same directory. A missing sibling skips that reference check.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := schema.Source(schema.NewFSSource(bundled.FS(), bundled.SchemaDir))
			if schemaDir != "" {
				src = schema.NewDirSource(schemaDir)
			}
			failed := false
			for _, path := range args {
				regName := registry.Name(name)
				if name == "" {
					regName = registry.Name(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
				}
				report, err := checkFile(cmd.Context(), path, regName, src)
				if err != nil {
					return err
				}
				report.print(cmd.OutOrStdout())
				failed = failed || len(report.Problems) > 0
			}
			if failed {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "registry", "", "Registry name (default: file base name)")
	cmd.Flags().StringVar(&schemaDir, "schema-dir", "", "Directory of schema documents (default: embedded)")
	return cmd
}

type fileReport struct {
	Path          string
	Registry      registry.Name
	SchemaVersion string
	Records       int
	Skipped       []registry.Name
	Problems      []string
	Warnings      []string
}

func (r fileReport) print(w io.Writer) {
	status := "ok"
	if len(r.Problems) > 0 {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s: %s (%s, %d records, schema %s)\n", status, r.Path, r.Registry, r.Records, r.SchemaVersion)
	for _, name := range r.Skipped {
		fmt.Fprintf(w, "  skipped: %s references (no sibling file)\n", name)
	}
	for _, p := range r.Problems {
		fmt.Fprintf(w, "  error: %s\n", p)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}

func checkFile(ctx context.Context, path string, name registry.Name, src schema.Source) (fileReport, error) {
	report := fileReport{Path: path, Registry: name}
	if !name.Valid() {
		return report, fmt.Errorf("%s: %w: %q", path, registry.ErrUnknownRegistry, name)
	}
	// #nosec G304: path is an explicit command argument.
	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("read %s: %w", path, err)
	}
	records, err := registry.DecodeFile(data)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report, nil
	}
	report.Records = len(records)

	validator, version, err := schema.NewLoader(src).Load(ctx, name)
	if err != nil {
		return report, err
	}
	report.SchemaVersion = version

	snapshots := make(map[registry.Name][]registry.Record)
	for _, rel := range name.Related() {
		sibling := filepath.Join(filepath.Dir(path), string(rel)+".json")
		// #nosec G304: sibling of an explicit command argument.
		raw, err := os.ReadFile(sibling)
		if errors.Is(err, fs.ErrNotExist) {
			report.Skipped = append(report.Skipped, rel)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("read %s: %w", sibling, err)
		}
		recs, err := registry.DecodeFile(raw)
		if err != nil {
			return report, fmt.Errorf("%s: %w", sibling, err)
		}
		snapshots[rel] = recs
	}
	view := cache.NewView(snapshots)

	engine := validation.NewDefaultEngine()
	idField := name.IdentifierField()
	for i, rec := range records {
		if got := rec.String(registry.SchemaVersionField); got != "" && got != version {
			report.Warnings = append(report.Warnings, fmt.Sprintf("record %d (%s): validated against schema %s, current is %s", i, rec.String(idField), got, version))
		}
		_, err := engine.Validate(ctx, validation.Input{
			Registry:      name,
			Candidate:     rec,
			Validator:     validator,
			SchemaVersion: version,
			View:          view,
		})
		if err != nil {
			report.Problems = append(report.Problems, fmt.Sprintf("record %d (%s): %v", i, rec.String(idField), err))
		}
	}
	for _, id := range cache.DuplicateIdentifiers(name, records) {
		report.Problems = append(report.Problems, fmt.Sprintf("duplicate %s %q", idField, id))
	}
	if canonical, err := registry.EncodeFile(records); err == nil && !bytes.Equal(canonical, data) {
		report.Warnings = append(report.Warnings, "file is not in canonical format")
	}
	return report, nil
}
