package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenCoralTools/oct-registry/internal/bundled"
	"github.com/OpenCoralTools/oct-registry/internal/config"
	"github.com/OpenCoralTools/oct-registry/internal/editor"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeBundled(t *testing.T, dir string, names ...registry.Name) {
	t.Helper()
	for _, name := range names {
		data, err := bundled.Data(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, string(name)+".json"), data, 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || !strings.Contains(out, "octregistry version "+Version) {
		t.Fatalf("unexpected output %q (%v)", out, err)
	}
}

func TestValidateBundledFiles(t *testing.T) {
	dir := t.TempDir()
	writeBundled(t, dir, registry.Names()...)
	out, err := execute(t, "validate", filepath.Join(dir, "genets.json"), filepath.Join(dir, "species.json"))
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if strings.Count(out, "ok: ") != 2 || strings.Contains(out, "skipped") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	dir := t.TempDir()
	writeBundled(t, dir, registry.Species)
	genets := `[
  {"id": "g1", "orgId": "nobody", "speciesCode": "ZZZZ", "_schemaVersion": "1.0.0"},
  {"id": "g1", "orgId": "nobody", "speciesCode": "ACER", "_schemaVersion": "0.9.0"}
]`
	path := filepath.Join(dir, "genets.json")
	if err := os.WriteFile(path, []byte(genets), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "validate", path)
	if !errors.Is(err, errInvalid) {
		t.Fatalf("expected invalid, got %v\n%s", err, out)
	}
	for _, want := range []string{
		"FAIL: ",
		"skipped: organizations",
		`speciesCode "ZZZZ" not found in species`,
		`duplicate id "g1"`,
		"validated against schema 0.9.0",
		"not in canonical format",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateExplicitRegistryAndSchemaDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orgs-export.json")
	if err := os.WriteFile(path, []byte(`[{"id":"Bad Id","name":"x"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "validate", "--registry", "organizations", path)
	if !errors.Is(err, errInvalid) || !strings.Contains(out, "does not match pattern") {
		t.Fatalf("expected pattern failure, got %v\n%s", err, out)
	}
	if _, err := execute(t, "validate", "--schema-dir", t.TempDir(), "--registry", "organizations", path); !errors.Is(err, registry.ErrSchemaUnavailable) {
		t.Fatalf("expected schema unavailable, got %v", err)
	}
	if _, err := execute(t, "validate", filepath.Join(dir, "orgs-export.json")); !errors.Is(err, registry.ErrUnknownRegistry) {
		t.Fatalf("expected unknown registry, got %v", err)
	}
}

func TestNewAppServesRegistries(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.Driver = "fs"
	cfg.Gateway.FS.Root = t.TempDir()
	cfg.Auth.Token = "local-token"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer func() { _ = a.Close() }()

	st := a.editors[registry.Species].Status()
	if st.Source != editor.SourceRemote || st.Records != 0 || !st.CanEdit {
		t.Fatalf("unexpected status %+v", st)
	}

	srv := httptest.NewServer(a.handler)
	defer srv.Close()
	body := strings.NewReader(`{"record":{"code":"ACER","genus":"Acropora","specificEpithet":"cervicornis"}}`)
	resp, err := http.Post(srv.URL+"/api/v1/registries/species/records", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: %d", resp.StatusCode)
	}
	written, err := os.ReadFile(filepath.Join(cfg.Gateway.FS.Root, "data", "species.json"))
	if err != nil || !bytes.Contains(written, []byte(`"code": "ACER"`)) {
		t.Fatalf("record not persisted: %v %s", err, written)
	}

	resp, err = http.Get(srv.URL + "/debug/vars")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expvar: %d", resp.StatusCode)
	}
}

func TestNewAppWithoutTokenIsReadOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.FS.Root = t.TempDir()
	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer func() { _ = a.Close() }()
	st := a.editors[registry.Organizations].Status()
	if !st.ReadOnly || st.Source != editor.SourceBundled || st.Records != 2 {
		t.Fatalf("unexpected status %+v", st)
	}
}
