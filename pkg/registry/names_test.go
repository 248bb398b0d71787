package registry

import (
	"errors"
	"testing"

	"github.com/OpenCoralTools/oct-registry/testutil"
)

func TestParse(t *testing.T) {
	n, err := Parse(" Genets ")
	if err != nil || n != Genets {
		t.Fatalf("parse genets: %v %v", n, err)
	}
	if _, err := Parse("corals"); !errors.Is(err, ErrUnknownRegistry) {
		t.Fatalf("expected ErrUnknownRegistry, got %v", err)
	}
}

func TestIdentifierFieldAndPath(t *testing.T) {
	if Species.IdentifierField() != "code" || Genets.IdentifierField() != "id" || Organizations.IdentifierField() != "id" {
		t.Fatalf("unexpected identifier fields")
	}
	if got := Species.Path(""); got != "data/species.json" {
		t.Fatalf("unexpected default path %q", got)
	}
	if got := Genets.Path("registry/data"); got != "registry/data/genets.json" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestForeignKeysOnlyForGenets(t *testing.T) {
	if len(Organizations.ForeignKeys()) != 0 || len(Species.ForeignKeys()) != 0 {
		t.Fatalf("only genets declare foreign keys")
	}
	related := Genets.Related()
	if len(related) != 2 || related[0] != Organizations || related[1] != Species {
		t.Fatalf("unexpected related registries %v", related)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.Join(errors.New("write"), ErrRevisionConflict)) {
		t.Fatalf("conflict should be retryable")
	}
	if IsRetryable(ErrRemoteUnavailable) {
		t.Fatalf("remote unavailable is not retryable")
	}
	err := &SchemaUnavailableError{Registry: Species, Err: errors.New("404")}
	if !errors.Is(err, ErrSchemaUnavailable) {
		t.Fatalf("schema unavailable error should match sentinel")
	}
}

// TestRegistryDoesNotImportInternal keeps the shared vocabulary free of
// internal and third-party dependencies.
func TestRegistryDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/registry must stay independent of internal packages")
	testutil.AssertNoTransitiveDependency(t, ".", testutil.ThirdPartyImportForbidden, "pkg/registry is stdlib-only")
}
