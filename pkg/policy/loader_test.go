package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const namingRego = `# Streaming jobs must be named.
# severity: error
package acme.naming

import rego.v1

deny contains "streaming jobs must be named" if {
	input.mode == "STREAMING"
	not input.job_name
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoader_LoadRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "naming.rego")
	writeFile(t, path, namingRego)

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "naming" {
		t.Errorf("Name = %s, want naming", p.Name)
	}
	if p.Description != "Streaming jobs must be named." {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Severity != SeverityError {
		t.Errorf("Severity = %s, want error", p.Severity)
	}
	if !p.Enabled || p.Builtin {
		t.Errorf("unexpected flags: enabled=%v builtin=%v", p.Enabled, p.Builtin)
	}
}

func TestLoader_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "naming.rego"), namingRego)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")
	writeFile(t, filepath.Join(dir, "bad.json"), "{not json")

	jsonPolicy, err := json.Marshal(Policy{
		Name:    "json-policy",
		Enabled: true,
		Rego:    "package json_policy\n\nimport rego.v1\n\ndeny contains \"never\" if { false }\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(sub, "policy.json"), string(jsonPolicy))

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}

	byName := map[string]Policy{}
	for _, p := range policies {
		byName[p.Name] = p
	}
	jp, ok := byName["json-policy"]
	if !ok {
		t.Fatal("json policy not loaded")
	}
	if jp.Severity != SeverityWarning {
		t.Errorf("json policy severity = %s, want default warning", jp.Severity)
	}
	if jp.CreatedAt.IsZero() {
		t.Error("json policy CreatedAt not defaulted")
	}
}

func TestLoader_Errors(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	if _, err := loader.LoadFromPaths(context.Background(), []string{"/does/not/exist"}); err == nil {
		t.Error("expected error for missing path")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "anon.json")
	writeFile(t, path, `{"rego": "package x"}`)
	if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
		t.Error("expected error for unnamed JSON policy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loader.LoadFromPaths(ctx, []string{dir}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantDesc string
		wantSev  Severity
	}{
		{name: "no header", content: "package x", wantSev: SeverityWarning},
		{name: "description only", content: "# Line one\n# line two\npackage x", wantDesc: "Line one line two", wantSev: SeverityWarning},
		{name: "severity", content: "# severity: critical\npackage x", wantSev: SeverityCritical},
		{name: "stops at package", content: "package x\n# severity: error", wantSev: SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, sev := parseHeader(tt.content)
			if desc != tt.wantDesc {
				t.Errorf("description = %q, want %q", desc, tt.wantDesc)
			}
			if sev != tt.wantSev {
				t.Errorf("severity = %s, want %s", sev, tt.wantSev)
			}
		})
	}
}

func TestLoader_LoadBundle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")

	data, err := json.Marshal(Bundle{
		Name:    "acme",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "a", Rego: "package a"},
			{Name: "b", Rego: "package b"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, string(data))

	bundle, err := NewLoader(zerolog.Nop()).LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle failed: %v", err)
	}
	if bundle.Name != "acme" || bundle.Version != "1.0.0" || len(bundle.Policies) != 2 {
		t.Errorf("unexpected bundle: %+v", bundle)
	}
}

func TestLoader_CacheAndClear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "naming.rego")
	writeFile(t, path, namingRego)

	loader := NewLoader(zerolog.Nop())
	ctx := context.Background()
	if _, err := loader.LoadFromPaths(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "# severity: info\npackage acme.naming\n")
	policies, err := loader.LoadFromPaths(ctx, []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if policies[0].Severity != SeverityError {
		t.Error("expected cached policy before ClearCache")
	}

	loader.ClearCache()
	policies, err = loader.LoadFromPaths(ctx, []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if policies[0].Severity != SeverityInfo {
		t.Errorf("severity after ClearCache = %s, want info", policies[0].Severity)
	}
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "naming.rego")
	writeFile(t, path, namingRego)

	eng := newTestEngine(t)
	loader := NewLoader(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan int, 4)
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		if err := eng.ReplaceUserPolicies(ctx, policies); err != nil {
			return err
		}
		reloaded <- len(policies)
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "second.rego"), "package second\n\nimport rego.v1\n\ndeny contains \"x\" if { false }\n")

	select {
	case n := <-reloaded:
		if n != 2 {
			t.Errorf("reloaded %d policies, want 2", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if _, err := eng.GetPolicy("second"); err != nil {
		t.Errorf("watched policy not applied: %v", err)
	}
}
