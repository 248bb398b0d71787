// Package testutil provides test helpers that enforce package layering.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ModulePath is the import path of this module.
const ModulePath = "github.com/OpenCoralTools/oct-registry"

// ImportPredicate reports whether an import path is forbidden.
type ImportPredicate func(importPath string) bool

// InternalImportForbidden matches any import path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// ThirdPartyImportForbidden matches any import path outside the standard library
// and this module.
func ThirdPartyImportForbidden(path string) bool {
	if path == ModulePath || strings.HasPrefix(path, ModulePath+"/") {
		return false
	}
	first, _, _ := strings.Cut(path, "/")
	return strings.Contains(first, ".")
}

// ModulePackages matches the given packages of this module and their subpackages.
func ModulePackages(rel ...string) ImportPredicate {
	return func(path string) bool {
		for _, r := range rel {
			full := ModulePath + "/" + strings.Trim(r, "/")
			if path == full || strings.HasPrefix(path, full+"/") {
				return true
			}
		}
		return false
	}
}

// AnyOf combines predicates.
func AnyOf(preds ...ImportPredicate) ImportPredicate {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

// Violation is one forbidden import.
type Violation struct {
	From   string
	Import string
}

func (v Violation) String() string { return fmt.Sprintf("%s imports %s", v.From, v.Import) }

// AssertNoDirectImports fails if a non-test .go file in dir imports a path
// matching forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden ImportPredicate, reason string) {
	t.Helper()
	viols, err := directImports(dir, forbidden)
	if err != nil {
		t.Fatalf("scan imports in %s: %v", dir, err)
	}
	report(t, "direct import", reason, viols)
}

// AssertNoTransitiveDependency loads pattern with its dependency graph and
// fails if any reachable package matches forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden ImportPredicate, reason string) {
	t.Helper()
	viols, err := transitiveImports(pattern, forbidden)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	report(t, "transitive dependency", reason, viols)
}

func directImports(dir string, forbidden ImportPredicate) ([]Violation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []Violation
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return nil, err
			}
			if forbidden(path) {
				viols = append(viols, Violation{From: name, Import: path})
			}
		}
	}
	return viols, nil
}

// loadPackages is replaced in tests.
var loadPackages = func(pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	return packages.Load(cfg, pattern)
}

func transitiveImports(pattern string, forbidden ImportPredicate) ([]Violation, error) {
	roots, err := loadPackages(pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var viols []Violation
	var visit func(pkg *packages.Package)
	visit = func(pkg *packages.Package) {
		for path, dep := range pkg.Imports {
			if forbidden(path) {
				viols = append(viols, Violation{From: pkg.PkgPath, Import: path})
			}
			if !seen[path] {
				seen[path] = true
				visit(dep)
			}
		}
	}
	for _, root := range roots {
		seen[root.PkgPath] = true
		visit(root)
	}
	sort.Slice(viols, func(i, j int) bool { return viols[i].String() < viols[j].String() })
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func report(t fatalLogger, kind, reason string, viols []Violation) {
	if len(viols) == 0 {
		return
	}
	lines := make([]string, len(viols))
	for i, v := range viols {
		lines[i] = v.String()
	}
	t.Fatalf("forbidden %s (%s):\n%s", kind, reason, strings.Join(lines, "\n"))
}
