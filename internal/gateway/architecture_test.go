package gateway

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const (
	modulePath  = "github.com/OpenCoralTools/oct-registry"
	facadePath  = modulePath + "/internal/gateway"
	driversPath = modulePath + "/internal/infra/gateway"
)

// TestDriversOnlyReachableThroughFacade keeps infra drivers behind the
// gateway facade: nothing else may import them, and drivers may not reach
// back into the engine packages.
func TestDriversOnlyReachableThroughFacade(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, modulePath+"/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		inFacade := underPrefix(pkg.PkgPath, facadePath)
		inDrivers := underPrefix(pkg.PkgPath, driversPath)
		for importPath := range pkg.Imports {
			switch {
			case !inFacade && !inDrivers && underPrefix(importPath, driversPath):
				violations = append(violations, pkg.PkgPath+" imports driver "+importPath)
			case inDrivers && underPrefix(importPath, modulePath+"/internal/") &&
				!underPrefix(importPath, facadePath+"/core") && !underPrefix(importPath, driversPath):
				violations = append(violations, pkg.PkgPath+" reaches into "+importPath)
			}
		}
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("found %d gateway layering violations:\n%s", len(violations), strings.Join(violations, "\n"))
	}
}

func underPrefix(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
