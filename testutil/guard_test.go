package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/tools/go/packages"
)

type recordingT struct {
	msg string
}

func (r *recordingT) Fatalf(format string, args ...any) {
	r.msg = format
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred ImportPredicate
		in   string
		want bool
	}{
		{InternalImportForbidden, ModulePath + "/internal/cache", true},
		{InternalImportForbidden, ModulePath + "/pkg/registry", false},
		{ThirdPartyImportForbidden, "encoding/json", false},
		{ThirdPartyImportForbidden, ModulePath + "/pkg/registry", false},
		{ThirdPartyImportForbidden, "github.com/spf13/cobra", true},
		{ThirdPartyImportForbidden, "gopkg.in/yaml.v3", true},
		{ModulePackages("internal/infra"), ModulePath + "/internal/infra/gateway/s3", true},
		{ModulePackages("internal/infra"), ModulePath + "/internal/infrastructure", false},
		{AnyOf(ModulePackages("internal/cache"), ThirdPartyImportForbidden), ModulePath + "/internal/cache", true},
		{AnyOf(), "fmt", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Errorf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDirectImportsIgnoresTestFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("main.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println() }\n")
	write("main_test.go", "package tmp\nimport \"example.com/x/internal/y\"\n")
	write("bad.go", "package tmp\nimport _ \"example.com/x/internal/z\"\n")

	viols, err := directImports(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0].From != "bad.go" || viols[0].Import != "example.com/x/internal/z" {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestTransitiveImportsWalksGraphOnce(t *testing.T) {
	old := loadPackages
	defer func() { loadPackages = old }()

	yaml := &packages.Package{PkgPath: "gopkg.in/yaml.v3", Imports: map[string]*packages.Package{}}
	mid := &packages.Package{PkgPath: ModulePath + "/internal/config", Imports: map[string]*packages.Package{"gopkg.in/yaml.v3": yaml}}
	root := &packages.Package{PkgPath: ModulePath + "/cmd/octregistry", Imports: map[string]*packages.Package{
		ModulePath + "/internal/config": mid,
		"gopkg.in/yaml.v3":              yaml,
	}}
	loadPackages = func(string) ([]*packages.Package, error) { return []*packages.Package{root}, nil }

	viols, err := transitiveImports("./...", ThirdPartyImportForbidden)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(viols) != 2 || viols[0].From != ModulePath+"/cmd/octregistry" {
		t.Fatalf("unexpected violations %v", viols)
	}

	loadPackages = func(string) ([]*packages.Package, error) { return nil, errors.New("boom") }
	if _, err := transitiveImports("./...", ThirdPartyImportForbidden); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestReport(t *testing.T) {
	rec := &recordingT{}
	report(rec, "direct import", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("unexpected failure for empty violations")
	}
	report(rec, "direct import", "reason", []Violation{{From: "a.go", Import: "x"}})
	if rec.msg == "" {
		t.Fatalf("expected failure message")
	}
}
